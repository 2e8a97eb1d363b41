package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/bus"
)

type objectKey struct {
	path  string
	iface string
}

type filterEntry struct {
	members []string
	fn      bus.Filter
}

type signalSub struct {
	iface string
	fn    bus.SignalHandler
}

// Conn is one connection to a Hub. It implements bus.Conn.
type Conn struct {
	hub     *Hub
	name    string
	private bool
	queue   *queue
	wg      sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	filters  map[objectKey]*filterEntry
	exports  map[objectKey]map[string]bus.Handler
	signals  map[uint64]signalSub
	watchers map[uint64]bus.OwnerLostFunc
	nextSub  uint64
}

var _ bus.Conn = (*Conn)(nil)

func (c *Conn) UniqueName() string {
	return c.name
}

func (c *Conn) RequestName(name string) error {
	if c.isClosed() {
		return bus.ErrClosed
	}
	return c.hub.requestName(c, name)
}

func (c *Conn) Send(ctx context.Context, msg *bus.Message) error {
	if c.isClosed() {
		return bus.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.hub.deliver(c.stamp(msg), kindOneWay, nil)
}

func (c *Conn) Call(ctx context.Context, msg *bus.Message) ([]byte, error) {
	if c.isClosed() {
		return nil, bus.ErrClosed
	}

	replyCh := make(chan reply, 1)
	if err := c.hub.deliver(c.stamp(msg), kindCall, replyCh); err != nil {
		return nil, err
	}

	select {
	case r := <-replyCh:
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.queue.done:
		return nil, bus.ErrClosed
	}
}

func (c *Conn) Emit(path, iface, member string, body []byte) error {
	if c.isClosed() {
		return bus.ErrClosed
	}
	c.hub.broadcast(c.stamp(&bus.Message{
		Path:      path,
		Interface: iface,
		Member:    member,
		Body:      body,
	}))
	return nil
}

func (c *Conn) AddFilter(path, iface string, members []string, f bus.Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return bus.ErrClosed
	}
	key := objectKey{path, iface}
	if _, ok := c.filters[key]; ok {
		return bus.NewError(bus.ErrorNameFailed, "a filter is already registered for %s", path)
	}
	c.filters[key] = &filterEntry{members: slices.Clone(members), fn: f}
	return nil
}

func (c *Conn) RemoveFilter(path, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := objectKey{path, iface}
	if _, ok := c.filters[key]; !ok {
		return bus.NewError(bus.ErrorNameUnknownObject, "no filter registered for %s", path)
	}
	delete(c.filters, key)
	return nil
}

func (c *Conn) Export(path, iface string, methods map[string]bus.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return bus.ErrClosed
	}
	key := objectKey{path, iface}
	if methods == nil {
		delete(c.exports, key)
		return nil
	}
	table := make(map[string]bus.Handler, len(methods))
	for name, h := range methods {
		table[name] = h
	}
	c.exports[key] = table
	return nil
}

func (c *Conn) Subscribe(iface string, h bus.SignalHandler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, bus.ErrClosed
	}
	c.nextSub++
	id := c.nextSub
	c.signals[id] = signalSub{iface: iface, fn: h}

	return func() {
		c.mu.Lock()
		delete(c.signals, id)
		c.mu.Unlock()
	}, nil
}

func (c *Conn) WatchOwnerLost(fn bus.OwnerLostFunc) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, bus.ErrClosed
	}
	c.nextSub++
	id := c.nextSub
	c.watchers[id] = fn

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}, nil
}

// ReadDispatch dispatches inbound traffic on the calling goroutine. On a
// shared connection the dispatch goroutine does the work and ReadDispatch
// only waits.
func (c *Conn) ReadDispatch(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if !c.private {
		select {
		case <-timer.C:
			return !c.isClosed()
		case <-c.queue.done:
			return false
		}
	}

	e, open := c.queue.pop(timer.C)
	if !open {
		return false
	}
	if e == nil {
		return true
	}
	c.dispatch(e)

	// Drain whatever else already arrived.
	for {
		e, open = c.queue.tryPop()
		if e == nil {
			return open
		}
		c.dispatch(e)
	}
}

// Close leaves the bus. Pending inbound calls are answered with a
// disconnection error and owner-lost watchers elsewhere are notified.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, e := range c.queue.close() {
		if e.kind == kindCall {
			e.reply <- reply{err: bus.ErrClosed}
		}
	}
	c.hub.remove(c)
	c.wg.Wait()
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) subscribedTo(iface string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.signals {
		if s.iface == iface {
			return true
		}
	}
	return false
}

func (c *Conn) watchingOwners() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers) > 0
}

// stamp copies msg with the sender filled in.
func (c *Conn) stamp(msg *bus.Message) *bus.Message {
	out := *msg
	out.Sender = c.name
	return &out
}

func (c *Conn) dispatchLoop() {
	defer c.wg.Done()
	for {
		e, open := c.queue.pop(nil)
		if !open {
			return
		}
		if e != nil {
			c.dispatch(e)
		}
	}
}

func (c *Conn) dispatch(e *envelope) {
	switch e.kind {
	case kindOneWay:
		c.dispatchOneWay(e.msg)
	case kindCall:
		body, err := c.dispatchCall(e.msg)
		e.reply <- reply{body: body, err: err}
	case kindSignal:
		c.dispatchSignal(e.msg)
	case kindOwnerLost:
		c.mu.Lock()
		watchers := make([]bus.OwnerLostFunc, 0, len(c.watchers))
		for _, fn := range c.watchers {
			watchers = append(watchers, fn)
		}
		c.mu.Unlock()
		for _, fn := range watchers {
			fn(e.lost)
		}
	}
}

func (c *Conn) dispatchOneWay(msg *bus.Message) {
	c.mu.Lock()
	entry, ok := c.filters[objectKey{msg.Path, msg.Interface}]
	c.mu.Unlock()

	if !ok || !slices.Contains(entry.members, msg.Member) {
		logger.Debug("memory bus: %s dropped %s.%s for %s", c.name, msg.Interface, msg.Member, msg.Path)
		return
	}
	entry.fn(msg)
}

func (c *Conn) dispatchCall(msg *bus.Message) ([]byte, error) {
	c.mu.Lock()
	table, ok := c.exports[objectKey{msg.Path, msg.Interface}]
	var h bus.Handler
	if ok {
		h = table[msg.Member]
	}
	c.mu.Unlock()

	if !ok {
		return nil, bus.NewError(bus.ErrorNameUnknownObject, "no object at %s implementing %s", msg.Path, msg.Interface)
	}
	if h == nil {
		return nil, bus.NewError(bus.ErrorNameUnknownMethod, "no method %s.%s", msg.Interface, msg.Member)
	}
	return h(context.Background(), msg)
}

func (c *Conn) dispatchSignal(msg *bus.Message) {
	c.mu.Lock()
	var handlers []bus.SignalHandler
	for _, s := range c.signals {
		if s.iface == msg.Interface {
			handlers = append(handlers, s.fn)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}
