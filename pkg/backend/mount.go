package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/bus"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// MountConfig describes how a backend is presented on the bus.
type MountConfig struct {
	DisplayName string
	Icon        string

	// ObjectPath is where the mount object is exported.
	ObjectPath string

	Spec *vfs.MountSpec

	// BatchSize is the number of entries per GotInfo message. Defaults to
	// wire.DefaultBatchSize.
	BatchSize int

	// SendTimeout bounds each streamed message. Defaults to 30s.
	SendTimeout time.Duration
}

// Mount serves one Backend on a bus connection.
//
// The connection's unique name becomes the mount's owner id once the mount
// is registered with the tracker, so each Mount normally gets a connection
// of its own: closing that connection revokes the mount.
type Mount struct {
	conn    bus.Conn
	backend Backend
	config  MountConfig
	metrics metrics.BackendMetrics

	// mu orders streams.Add against Close's Wait.
	mu        sync.Mutex
	closed    bool
	streams   sync.WaitGroup
	stop      chan struct{}
	unmounted chan struct{}
	unmountMu sync.Once
}

// NewMount creates a mount for backend on conn. A nil backendMetrics
// disables metrics.
func NewMount(conn bus.Conn, backend Backend, config MountConfig, backendMetrics metrics.BackendMetrics) *Mount {
	if config.BatchSize <= 0 {
		config.BatchSize = wire.DefaultBatchSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 30 * time.Second
	}
	if backendMetrics == nil {
		backendMetrics = metrics.NewNoopBackendMetrics()
	}
	return &Mount{
		conn:      conn,
		backend:   backend,
		config:    config,
		metrics:   backendMetrics,
		stop:      make(chan struct{}),
		unmounted: make(chan struct{}),
	}
}

// Config returns the mount's presentation settings.
func (m *Mount) Config() MountConfig {
	return m.config
}

// Backend returns the served backend.
func (m *Mount) Backend() Backend {
	return m.backend
}

// Export publishes the mount object on the bus.
func (m *Mount) Export() error {
	methods := map[string]bus.Handler{
		wire.MethodEnumerate: m.handleEnumerate,
		wire.MethodUnmount:   m.handleUnmount,
	}
	if err := m.conn.Export(m.config.ObjectPath, wire.MountInterface, methods); err != nil {
		return fmt.Errorf("failed to export mount %s: %w", m.config.ObjectPath, err)
	}
	logger.Debug("Mount %s (%s) exported at %s", m.config.DisplayName, m.backend.Type(), m.config.ObjectPath)
	return nil
}

// Unmounted is closed when a client asked the mount to go away.
func (m *Mount) Unmounted() <-chan struct{} {
	return m.unmounted
}

// Close unexports the mount and waits for running streams to finish.
// Streams still running are abandoned between batches. No stream starts
// once Close has been called.
func (m *Mount) Close() error {
	m.mu.Lock()
	first := !m.closed
	if first {
		m.closed = true
		close(m.stop)
	}
	m.mu.Unlock()

	if first {
		if err := m.conn.Export(m.config.ObjectPath, wire.MountInterface, nil); err != nil {
			logger.Debug("Error unexporting mount %s: %v", m.config.ObjectPath, err)
		}
	}
	m.streams.Wait()
	return nil
}

// startStream registers a stream unless the mount is closed.
func (m *Mount) startStream() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.streams.Add(1)
	return true
}

func (m *Mount) errShuttingDown() error {
	return bus.NewError(bus.ErrorNameUnknownObject, "mount %s is shutting down", m.config.ObjectPath)
}

// handleEnumerate lists the requested directory before replying so that
// listing errors reach the caller as the method reply, then streams the
// entries in the background.
func (m *Mount) handleEnumerate(ctx context.Context, msg *bus.Message) ([]byte, error) {
	var args wire.EnumerateArgs
	if err := wire.Decode(msg.Body, &args); err != nil {
		return nil, bus.NewError(bus.ErrorNameInvalidArgs, "invalid Enumerate arguments: %v", err)
	}
	if args.EnumeratorPath == "" {
		return nil, bus.NewError(bus.ErrorNameInvalidArgs, "Enumerate: empty enumerator path")
	}

	select {
	case <-m.stop:
		return nil, m.errShuttingDown()
	default:
	}

	dir := CleanPath(args.Path)
	start := time.Now()
	entries, err := m.backend.List(ctx, dir)
	m.metrics.RecordList(m.backend.Type(), time.Since(start), len(entries), err)
	if err != nil {
		logger.Debug("Mount %s: listing %s failed: %v", m.config.ObjectPath, dir, err)
		return nil, wire.ToBusError(err)
	}

	// Close may have run while the backend was listing.
	if !m.startStream() {
		return nil, m.errShuttingDown()
	}

	logger.Debug("Mount %s: streaming %d entries of %s to %s%s",
		m.config.ObjectPath, len(entries), dir, msg.Sender, args.EnumeratorPath)

	go func() {
		defer m.streams.Done()
		m.stream(msg.Sender, args.EnumeratorPath, entries)
	}()
	return nil, nil
}

// stream sends entries to the enumerator in batches, then Done.
func (m *Mount) stream(dest, enumeratorPath string, entries []*vfs.FileInfo) {
	send := func(member string, body []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.SendTimeout)
		defer cancel()
		return m.conn.Send(ctx, &bus.Message{
			Destination: dest,
			Path:        enumeratorPath,
			Interface:   wire.EnumeratorInterface,
			Member:      member,
			Body:        body,
		})
	}

	for start := 0; start < len(entries); start += m.config.BatchSize {
		select {
		case <-m.stop:
			logger.Debug("Mount %s: stream to %s abandoned on shutdown", m.config.ObjectPath, dest)
			return
		default:
		}

		end := min(start+m.config.BatchSize, len(entries))
		if err := send(wire.MemberGotInfo, wire.EncodeGotInfo(entries[start:end])); err != nil {
			// The enumerator's owner is gone; nobody is left to read the rest.
			logger.Debug("Mount %s: stream to %s stopped: %v", m.config.ObjectPath, dest, err)
			return
		}
		m.metrics.RecordBatchSent(m.backend.Type())
	}

	if err := send(wire.MemberDone, nil); err != nil {
		logger.Debug("Mount %s: sending Done to %s failed: %v", m.config.ObjectPath, dest, err)
	}
}

func (m *Mount) handleUnmount(_ context.Context, msg *bus.Message) ([]byte, error) {
	logger.Info("Mount %s: unmount requested by %s", m.config.ObjectPath, msg.Sender)
	m.unmountMu.Do(func() { close(m.unmounted) })
	return nil, nil
}
