package memory

import (
	"sync"
	"time"

	"github.com/marmos91/dittovfs/pkg/bus"
)

type envelopeKind int

const (
	kindOneWay envelopeKind = iota
	kindCall
	kindSignal
	kindOwnerLost
)

type reply struct {
	body []byte
	err  error
}

type envelope struct {
	kind  envelopeKind
	msg   *bus.Message
	reply chan reply

	// lost is the unique name that left the bus (kindOwnerLost only)
	lost string
}

// queue is an unbounded FIFO of inbound envelopes for one connection.
type queue struct {
	mu     sync.Mutex
	items  []*envelope
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1), done: make(chan struct{})}
}

func (q *queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) push(e *envelope) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.wake()
	return true
}

// tryPop returns the front envelope without waiting.
func (q *queue) tryPop() (*envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, !q.closed
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

// pop waits for the next envelope. A nil deadline waits forever. It returns
// (nil, true) on timeout and (nil, false) once the queue is closed and
// drained.
func (q *queue) pop(deadline <-chan time.Time) (*envelope, bool) {
	for {
		e, open := q.tryPop()
		if e != nil || !open {
			return e, open
		}
		select {
		case <-q.ready:
		case <-q.done:
		case <-deadline:
			return nil, true
		}
	}
}

// close marks the queue closed and returns what was still pending.
func (q *queue) close() []*envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	rest := q.items
	q.items = nil
	close(q.done)
	return rest
}
