// Package memory implements an in-process message bus.
//
// A Hub plays the role of the bus daemon: it hands out unique names
// (":1.1", ":1.2", ...), owns the well-known name table and routes
// messages between connections. Closing a connection releases its names and
// notifies every owner-lost watcher, exactly like a process dropping off a
// real bus.
//
// Shared connections (Connect) dispatch inbound traffic on their own
// goroutine. Private connections (ConnectPrivate) only make progress while a
// caller pumps ReadDispatch, which is what the synchronous enumerator relies
// on.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/bus"
)

// Hub routes messages between in-process connections.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	names  map[string]string
	nextID uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		names: make(map[string]string),
	}
}

// Connect opens a shared connection that dispatches inbound messages on a
// dedicated goroutine.
func (h *Hub) Connect() *Conn {
	c := h.newConn(false)
	c.wg.Add(1)
	go c.dispatchLoop()
	return c
}

// ConnectPrivate opens a connection whose inbound messages are only
// dispatched from ReadDispatch.
func (h *Hub) ConnectPrivate() *Conn {
	return h.newConn(true)
}

func (h *Hub) newConn(private bool) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	c := &Conn{
		hub:      h,
		name:     fmt.Sprintf(":1.%d", h.nextID),
		private:  private,
		queue:    newQueue(),
		filters:  make(map[objectKey]*filterEntry),
		exports:  make(map[objectKey]map[string]bus.Handler),
		signals:  make(map[uint64]signalSub),
		watchers: make(map[uint64]bus.OwnerLostFunc),
	}
	h.conns[c.name] = c

	logger.Debug("memory bus: connection %s opened (private=%t)", c.name, private)
	return c
}

// Names returns the unique names of all open connections.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.conns))
	for name := range h.conns {
		names = append(names, name)
	}
	return names
}

// NameOwner returns the unique name owning a well-known name.
func (h *Hub) NameOwner(name string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	owner, ok := h.names[name]
	return owner, ok
}

func (h *Hub) resolve(dest string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !strings.HasPrefix(dest, ":") {
		owner, ok := h.names[dest]
		if !ok {
			return nil, false
		}
		dest = owner
	}
	c, ok := h.conns[dest]
	return c, ok
}

func (h *Hub) requestName(c *Conn, name string) error {
	if name == "" || strings.HasPrefix(name, ":") {
		return bus.NewError(bus.ErrorNameInvalidArgs, "invalid well-known name %q", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if owner, ok := h.names[name]; ok && owner != c.name {
		return bus.NewError(bus.ErrorNameFailed, "name %q is already owned by %s", name, owner)
	}
	h.names[name] = c.name
	return nil
}

func (h *Hub) deliver(msg *bus.Message, kind envelopeKind, replyCh chan reply) error {
	dest, ok := h.resolve(msg.Destination)
	if !ok {
		return bus.NewError(bus.ErrorNameServiceUnknown, "the name %s was not provided by any connection", msg.Destination)
	}
	if !dest.queue.push(&envelope{kind: kind, msg: msg, reply: replyCh}) {
		return bus.NewError(bus.ErrorNameServiceUnknown, "the name %s has left the bus", msg.Destination)
	}
	return nil
}

func (h *Hub) broadcast(msg *bus.Message) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.subscribedTo(msg.Interface) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.queue.push(&envelope{kind: kindSignal, msg: msg})
	}
}

// remove drops c from the hub, releases its well-known names and notifies
// the owner-lost watchers of every remaining connection.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.name]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.name)
	for name, owner := range h.names {
		if owner == c.name {
			delete(h.names, name)
		}
	}
	targets := make([]*Conn, 0, len(h.conns))
	for _, other := range h.conns {
		if other.watchingOwners() {
			targets = append(targets, other)
		}
	}
	h.mu.Unlock()

	logger.Debug("memory bus: connection %s closed", c.name)

	for _, other := range targets {
		other.queue.push(&envelope{kind: kindOwnerLost, lost: c.name})
	}
}
