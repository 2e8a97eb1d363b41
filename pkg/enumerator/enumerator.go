// Package enumerator implements the client side of a remote directory
// listing.
//
// A backend daemon streams directory entries to the enumerator's bus address
// as GotInfo batches followed by a single Done. The Enumerator buffers them
// and serves two kinds of consumers:
//
//   - synchronous callers (NextFile) that own a private connection and pump
//     it themselves while waiting;
//   - asynchronous callers (NextFilesAsync/NextFilesFinish) that rely on a
//     shared connection dispatched elsewhere.
//
// The mode is fixed at construction and the two APIs are mutually exclusive.
package enumerator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/bus"
	"github.com/marmos91/dittovfs/pkg/completion"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Mode selects how an Enumerator is consumed.
type Mode int

const (
	// ModeAsync enumerators are served by NextFilesAsync on a shared,
	// externally dispatched connection.
	ModeAsync Mode = iota

	// ModeSync enumerators are served by NextFile, which pumps the private
	// connection the enumerator was created on.
	ModeSync
)

func (m Mode) String() string {
	if m == ModeSync {
		return "sync"
	}
	return "async"
}

// Result is the completion token of an asynchronous request.
type Result = completion.Token[[]*vfs.FileInfo]

// Callback receives a completed Result. Pass the token to NextFilesFinish.
type Callback = completion.Callback[[]*vfs.FileInfo]

// Options configures an Enumerator.
type Options struct {
	Mode Mode

	// Timeout bounds NextFile and is the deadline of each asynchronous
	// request. Defaults to wire.DefaultTimeout.
	Timeout time.Duration

	// PollInterval is the read-dispatch quantum of NextFile. Defaults to
	// wire.DefaultPollInterval.
	PollInterval time.Duration

	// Schedule runs completion callbacks. Defaults to completion.Go.
	Schedule completion.Scheduler

	Metrics metrics.EnumeratorMetrics
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = wire.DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = wire.DefaultPollInterval
	}
	if o.Schedule == nil {
		o.Schedule = completion.Go
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopEnumeratorMetrics()
	}
}

// request is the outstanding asynchronous request.
type request struct {
	count int
	token *Result
}

// Enumerator buffers the entries of one remote directory listing.
//
// Thread safety:
// The bus filter runs on the dispatch goroutine while consumers call in from
// their own goroutines; mu serializes buffer, done, pending and closed.
type Enumerator struct {
	conn bus.Conn
	path string
	opts Options

	mu      sync.Mutex
	buffer  []*vfs.FileInfo
	done    bool
	pending *request
	closed  bool
}

// New creates an enumerator, reserving a fresh address from counter and
// installing its message filter on conn. In ModeSync, conn must be the
// private connection the caller will pump.
func New(conn bus.Conn, counter *Counter, opts Options) (*Enumerator, error) {
	opts.applyDefaults()

	e := &Enumerator{
		conn: conn,
		path: counter.Next(),
		opts: opts,
	}

	members := []string{wire.MemberGotInfo, wire.MemberDone}
	if err := conn.AddFilter(e.path, wire.EnumeratorInterface, members, e.filter); err != nil {
		return nil, fmt.Errorf("failed to register enumerator %s: %w", e.path, err)
	}

	opts.Metrics.AddOpenEnumerators(1)
	logger.Debug("Enumerator %s created (mode=%s)", e.path, opts.Mode)
	return e, nil
}

// ObjectPath is the bus address entries must be sent to.
func (e *Enumerator) ObjectPath() string {
	return e.path
}

// Mode returns the consumption mode fixed at construction.
func (e *Enumerator) Mode() Mode {
	return e.opts.Mode
}

// NextFile returns the next buffered entry, waiting for the backend when
// the buffer is empty. It returns (nil, nil) at the end of the listing, when
// the connection closes, or when nothing arrived within the timeout.
//
// Only valid in ModeSync; otherwise it fails immediately with a usage
// error and does not touch the connection.
func (e *Enumerator) NextFile() (*vfs.FileInfo, error) {
	if e.opts.Mode != ModeSync {
		return nil, vfs.NewError(vfs.CodeUsage, "can't do synchronous next_file() on async-only enumerator", e.path)
	}

	deadline := time.Now().Add(e.opts.Timeout)
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, vfs.NewError(vfs.CodeClosed, "enumerator is closed", e.path)
		}
		if len(e.buffer) > 0 {
			fi := e.buffer[0]
			e.buffer[0] = nil
			e.buffer = e.buffer[1:]
			e.mu.Unlock()
			return fi, nil
		}
		if e.done {
			e.mu.Unlock()
			return nil, nil
		}
		e.mu.Unlock()

		// Short quanta: the filter may append right after the unlock above.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("Enumerator %s: no data within %v", e.path, e.opts.Timeout)
			return nil, nil
		}
		if !e.conn.ReadDispatch(min(e.opts.PollInterval, remaining)) {
			logger.Debug("Enumerator %s: connection closed while waiting", e.path)
			return nil, nil
		}
	}
}

// NextFilesAsync requests up to count entries. cb is invoked exactly once,
// never from within this call, with a token to pass to NextFilesFinish.
//
// The request completes with a success when count entries are buffered,
// when the listing ends (possibly short), or when the deadline expires
// (possibly short or empty). Cancelling ctx completes it with a Cancelled
// error and leaves the buffer untouched.
func (e *Enumerator) NextFilesAsync(ctx context.Context, count int, cb Callback) {
	token := completion.New(cb, e.opts.Schedule)

	if e.opts.Mode != ModeAsync {
		token.Fail(vfs.NewError(vfs.CodeUsage, "can't do asynchronous next_files() on a sync enumerator", e.path))
		return
	}
	if count <= 0 {
		token.Fail(vfs.NewError(vfs.CodeInvalidArgument, fmt.Sprintf("invalid entry count %d", count), e.path))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		token.Fail(vfs.NewError(vfs.CodeClosed, "enumerator is closed", e.path))
		return
	}
	if e.pending != nil {
		token.Fail(vfs.NewError(vfs.CodePending, "file enumerator has outstanding operation", e.path))
		return
	}

	req := &request{count: count, token: token}
	e.pending = req

	if e.done || len(e.buffer) >= count {
		e.completeLocked(req, nil, e.outcomeLocked())
		return
	}

	token.OnCancel(ctx, func() { e.cancel(req) })
	token.OnDeadline(e.opts.Timeout, func() { e.expire(req) })
}

// NextFilesFinish hands over the result of a completed request. The token's
// stored result is cleared; a second call yields completion.ErrTaken.
func (e *Enumerator) NextFilesFinish(result *Result) ([]*vfs.FileInfo, error) {
	return result.Result()
}

// NextFiles is NextFilesAsync followed by a wait for the callback.
func (e *Enumerator) NextFiles(ctx context.Context, count int) ([]*vfs.FileInfo, error) {
	token, err := completion.Await(ctx, func(cb Callback) {
		e.NextFilesAsync(ctx, count, cb)
	})
	if err != nil {
		return nil, err
	}
	return e.NextFilesFinish(token)
}

// Close releases the enumerator's address. It does not contact the backend.
// Closing with a request outstanding fails with a Pending error.
func (e *Enumerator) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.pending != nil {
		e.mu.Unlock()
		return vfs.NewError(vfs.CodePending, "file enumerator has outstanding operation", e.path)
	}
	e.closed = true
	e.buffer = nil
	e.mu.Unlock()

	e.opts.Metrics.AddOpenEnumerators(-1)
	if err := e.conn.RemoveFilter(e.path, wire.EnumeratorInterface); err != nil {
		logger.Debug("Enumerator %s: releasing address: %v", e.path, err)
	}
	logger.Debug("Enumerator %s closed", e.path)
	return nil
}

// CloseAsync is Close with the outcome delivered to cb through the
// enumerator's scheduler.
func (e *Enumerator) CloseAsync(cb func(err error)) {
	err := e.Close()
	if cb != nil {
		e.opts.Schedule(func() { cb(err) })
	}
}

// filter handles GotInfo and Done messages addressed to the enumerator.
func (e *Enumerator) filter(msg *bus.Message) {
	switch msg.Member {
	case wire.MemberGotInfo:
		entries, malformed, err := wire.DecodeGotInfo(msg.Body)
		if err != nil {
			logger.Warn("Enumerator %s: dropping malformed GotInfo from %s: %v", e.path, msg.Sender, err)
			e.opts.Metrics.RecordBatch(0, 1)
			return
		}
		if malformed > 0 {
			logger.Debug("Enumerator %s: skipped %d malformed record(s)", e.path, malformed)
		}
		e.opts.Metrics.RecordBatch(len(entries), malformed)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		e.buffer = append(e.buffer, entries...)
		if e.pending != nil && len(e.buffer) >= e.pending.count {
			e.completeLocked(e.pending, nil, metrics.OutcomeSuccess)
		}

	case wire.MemberDone:
		e.mu.Lock()
		defer e.mu.Unlock()
		e.done = true
		if e.pending != nil {
			e.completeLocked(e.pending, nil, metrics.OutcomeDone)
		}
	}
}

func (e *Enumerator) cancel(req *request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completeLocked(req, vfs.NewError(vfs.CodeCancelled, "operation was cancelled", e.path), metrics.OutcomeCancelled)
}

func (e *Enumerator) expire(req *request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completeLocked(req, nil, metrics.OutcomeTimeout)
}

func (e *Enumerator) outcomeLocked() string {
	if e.done {
		return metrics.OutcomeDone
	}
	return metrics.OutcomeSuccess
}

// completeLocked fulfils req unless another trigger already did. On
// success the first min(count, len(buffer)) entries are handed over and the
// rest stay buffered; on error the buffer is left untouched.
func (e *Enumerator) completeLocked(req *request, err error, outcome string) {
	if e.pending != req {
		return
	}
	e.pending = nil

	if err != nil {
		req.token.Fail(err)
		e.opts.Metrics.RecordCompletion(outcome, 0)
		return
	}

	n := min(req.count, len(e.buffer))
	prefix := slices.Clone(e.buffer[:n])
	clear(e.buffer[:n])
	e.buffer = e.buffer[n:]

	req.token.Resolve(prefix)
	e.opts.Metrics.RecordCompletion(outcome, n)
}
