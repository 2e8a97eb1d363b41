// Package bus defines the message transport shared by clients, backend
// daemons and the mount tracker.
//
// The transport is deliberately small: one-way messages, method calls with
// a reply, broadcast signals, per-address filters and an owner-lost
// notification. Two implementations exist: pkg/bus/memory (in-process hub,
// used for tests and the single-process daemon mode) and pkg/bus/dbus (a
// real D-Bus session or system bus via godbus).
//
// Message bodies are opaque byte slices; encoding is the caller's concern
// (see internal/protocol/wire).
package bus

import (
	"context"
	"time"
)

// Message is a single bus message.
type Message struct {
	// Sender is the unique name of the sending connection. Filled in by the
	// transport on delivery.
	Sender string

	// Destination is a unique or well-known name. Empty for signals.
	Destination string

	// Path is the object path the message is addressed to.
	Path string

	Interface string
	Member    string

	Body []byte
}

// Filter handles one-way messages delivered to a registered object path.
// It runs on the connection's dispatch goroutine (or the goroutine pumping
// ReadDispatch for private connections).
type Filter func(msg *Message)

// Handler serves a method call and returns the reply body.
type Handler func(ctx context.Context, msg *Message) ([]byte, error)

// SignalHandler receives broadcast signals.
type SignalHandler func(msg *Message)

// OwnerLostFunc is invoked with the unique name of a connection that left
// the bus.
type OwnerLostFunc func(name string)

// Conn is one connection to the bus.
type Conn interface {
	// UniqueName returns the connection's unique bus name (":1.42").
	UniqueName() string

	// RequestName claims a well-known name for this connection.
	RequestName(name string) error

	// Send delivers a one-way message. No reply is expected.
	Send(ctx context.Context, msg *Message) error

	// Call performs a method call and waits for the reply body.
	Call(ctx context.Context, msg *Message) ([]byte, error)

	// Emit broadcasts a signal from path.
	Emit(path, iface, member string, body []byte) error

	// AddFilter routes one-way messages for (path, iface) to f.
	AddFilter(path, iface string, members []string, f Filter) error

	// RemoveFilter releases a filter registered with AddFilter.
	RemoveFilter(path, iface string) error

	// Export serves method calls for (path, iface). Passing nil methods
	// unexports the object.
	Export(path, iface string, methods map[string]Handler) error

	// Subscribe delivers signals emitted on iface to h. The returned func
	// cancels the subscription.
	Subscribe(iface string, h SignalHandler) (func(), error)

	// WatchOwnerLost invokes fn whenever a unique name disappears from the
	// bus. The returned func stops watching.
	WatchOwnerLost(fn OwnerLostFunc) (func(), error)

	// ReadDispatch waits up to timeout for inbound traffic and dispatches
	// it on the calling goroutine. It returns false once the connection is
	// closed.
	ReadDispatch(timeout time.Duration) bool

	Close() error
}
