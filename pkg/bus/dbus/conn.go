// Package dbus adapts a godbus connection to bus.Conn.
//
// Every payload travels as a single byte-array argument ("ay"). Method calls
// map onto exported method tables; one-way messages are sent as unicast
// signals so that they are delivered in order through a sequential signal
// handler (godbus runs each inbound method call on its own goroutine, which
// would reorder GotInfo batches and Done).
package dbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/bus"
)

const (
	busName      = "org.freedesktop.DBus"
	busInterface = "org.freedesktop.DBus"
	ownerChanged = "NameOwnerChanged"
)

// BusType selects which bus Dial connects to.
type BusType string

const (
	SessionBus BusType = "session"
	SystemBus  BusType = "system"
	AddressBus BusType = "address"
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

// Conn wraps a godbus connection. It implements bus.Conn.
type Conn struct {
	conn    *godbus.Conn
	signals chan *godbus.Signal
	done    chan struct{}

	mu          sync.Mutex
	filters     map[objectKey]*filterEntry
	subs        map[uint64]signalSub
	watchers    map[uint64]bus.OwnerLostFunc
	matched     map[string]bool
	ownerMatch  bool
	nextID      uint64
	closeOnce   sync.Once
	dispatchers sync.WaitGroup
}

var _ bus.Conn = (*Conn)(nil)

// Dial connects to the given bus. address is only used with AddressBus.
func Dial(typ BusType, address string) (*Conn, error) {
	opt := godbus.WithSignalHandler(godbus.NewSequentialSignalHandler())

	var (
		conn *godbus.Conn
		err  error
	)
	switch typ {
	case SessionBus, "":
		conn, err = godbus.ConnectSessionBus(opt)
	case SystemBus:
		conn, err = godbus.ConnectSystemBus(opt)
	case AddressBus:
		conn, err = godbus.Connect(address, opt)
	default:
		return nil, fmt.Errorf("unknown bus type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s bus: %w", typ, err)
	}

	return newConn(conn), nil
}

func newConn(conn *godbus.Conn) *Conn {
	c := &Conn{
		conn:     conn,
		signals:  make(chan *godbus.Signal, 64),
		done:     make(chan struct{}),
		filters:  make(map[objectKey]*filterEntry),
		subs:     make(map[uint64]signalSub),
		watchers: make(map[uint64]bus.OwnerLostFunc),
		matched:  make(map[string]bool),
	}
	conn.Signal(c.signals)

	c.dispatchers.Add(1)
	go c.dispatchLoop()

	logger.Debug("dbus: connected as %s", c.UniqueName())
	return c
}

func (c *Conn) UniqueName() string {
	names := c.conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (c *Conn) RequestName(name string) error {
	reply, err := c.conn.RequestName(name, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fromDBusError(err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner && reply != godbus.RequestNameReplyAlreadyOwner {
		return bus.NewError(bus.ErrorNameFailed, "name %q is already taken", name)
	}
	return nil
}

// Send delivers msg as a unicast signal.
func (c *Conn) Send(ctx context.Context, msg *bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.conn.Connected() {
		return bus.ErrClosed
	}

	body := []interface{}{payload(msg.Body)}
	m := &godbus.Message{
		Type: godbus.TypeSignal,
		Headers: map[godbus.HeaderField]godbus.Variant{
			godbus.FieldPath:        godbus.MakeVariant(godbus.ObjectPath(msg.Path)),
			godbus.FieldInterface:   godbus.MakeVariant(msg.Interface),
			godbus.FieldMember:      godbus.MakeVariant(msg.Member),
			godbus.FieldDestination: godbus.MakeVariant(msg.Destination),
			godbus.FieldSignature:   godbus.MakeVariant(godbus.SignatureOf(body...)),
		},
		Body: body,
	}
	if err := m.IsValid(); err != nil {
		return bus.NewError(bus.ErrorNameInvalidArgs, "invalid message: %v", err)
	}

	call := c.conn.SendWithContext(ctx, m, nil)
	if call.Err != nil {
		return fromDBusError(call.Err)
	}
	return nil
}

func (c *Conn) Call(ctx context.Context, msg *bus.Message) ([]byte, error) {
	obj := c.conn.Object(msg.Destination, godbus.ObjectPath(msg.Path))
	call := obj.CallWithContext(ctx, msg.Interface+"."+msg.Member, 0, payload(msg.Body))
	if call.Err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fromDBusError(call.Err)
	}

	var reply []byte
	if len(call.Body) == 0 {
		return nil, nil
	}
	if err := call.Store(&reply); err != nil {
		return nil, bus.NewError(bus.ErrorNameInvalidArgs, "unexpected reply to %s.%s: %v", msg.Interface, msg.Member, err)
	}
	return reply, nil
}

func (c *Conn) Emit(path, iface, member string, body []byte) error {
	if err := c.conn.Emit(godbus.ObjectPath(path), iface+"."+member, payload(body)); err != nil {
		return fromDBusError(err)
	}
	return nil
}

func (c *Conn) AddFilter(path, iface string, members []string, f bus.Filter) error {
	if !godbus.ObjectPath(path).IsValid() {
		return bus.NewError(bus.ErrorNameInvalidArgs, "invalid object path %q", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

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
	if methods == nil {
		return c.conn.ExportMethodTable(nil, godbus.ObjectPath(path), iface)
	}

	table := make(map[string]interface{}, len(methods))
	for member, h := range methods {
		table[member] = c.wrapHandler(path, iface, member, h)
	}
	return c.conn.ExportMethodTable(table, godbus.ObjectPath(path), iface)
}

func (c *Conn) wrapHandler(path, iface, member string, h bus.Handler) func(godbus.Sender, []byte) ([]byte, *godbus.Error) {
	return func(sender godbus.Sender, body []byte) ([]byte, *godbus.Error) {
		reply, err := h(c.conn.Context(), &bus.Message{
			Sender:    string(sender),
			Path:      path,
			Interface: iface,
			Member:    member,
			Body:      body,
		})
		if err != nil {
			return nil, toDBusError(err)
		}
		return payload(reply), nil
	}
}

func (c *Conn) Subscribe(iface string, h bus.SignalHandler) (func(), error) {
	c.mu.Lock()
	needMatch := !c.matched[iface]
	c.mu.Unlock()

	if needMatch {
		if err := c.conn.AddMatchSignal(godbus.WithMatchInterface(iface)); err != nil {
			return nil, fromDBusError(err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.matched[iface] = true
	c.nextID++
	id := c.nextID
	c.subs[id] = signalSub{iface: iface, fn: h}

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}, nil
}

func (c *Conn) WatchOwnerLost(fn bus.OwnerLostFunc) (func(), error) {
	c.mu.Lock()
	needMatch := !c.ownerMatch
	c.mu.Unlock()

	if needMatch {
		err := c.conn.AddMatchSignal(
			godbus.WithMatchSender(busName),
			godbus.WithMatchInterface(busInterface),
			godbus.WithMatchMember(ownerChanged),
		)
		if err != nil {
			return nil, fromDBusError(err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ownerMatch = true
	c.nextID++
	id := c.nextID
	c.watchers[id] = fn

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}, nil
}

// ReadDispatch waits for timeout. godbus reads and dispatches on its own
// goroutines, so there is nothing to pump here.
func (c *Conn) ReadDispatch(timeout time.Duration) bool {
	select {
	case <-time.After(timeout):
		return c.conn.Connected()
	case <-c.conn.Context().Done():
		return false
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.RemoveSignal(c.signals)
		close(c.done)
		err = c.conn.Close()
		c.dispatchers.Wait()
	})
	return err
}

func (c *Conn) dispatchLoop() {
	defer c.dispatchers.Done()
	for {
		select {
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			c.dispatchSignal(sig)
		case <-c.done:
			return
		}
	}
}

func (c *Conn) dispatchSignal(sig *godbus.Signal) {
	i := strings.LastIndex(sig.Name, ".")
	if i < 0 {
		return
	}
	iface, member := sig.Name[:i], sig.Name[i+1:]

	if iface == busInterface && member == ownerChanged {
		c.dispatchOwnerChanged(sig)
		return
	}

	var body []byte
	if len(sig.Body) > 0 {
		body, _ = sig.Body[0].([]byte)
	}
	msg := &bus.Message{
		Sender:    sig.Sender,
		Path:      string(sig.Path),
		Interface: iface,
		Member:    member,
		Body:      body,
	}

	c.mu.Lock()
	entry, isFilter := c.filters[objectKey{msg.Path, iface}]
	var handlers []bus.SignalHandler
	if !isFilter {
		for _, s := range c.subs {
			if s.iface == iface {
				handlers = append(handlers, s.fn)
			}
		}
	}
	c.mu.Unlock()

	if isFilter {
		if slices.Contains(entry.members, member) {
			entry.fn(msg)
		}
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

// dispatchOwnerChanged maps NameOwnerChanged(name, old, new) to owner-lost
// callbacks for unique names that lost their owner.
func (c *Conn) dispatchOwnerChanged(sig *godbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if !strings.HasPrefix(name, ":") || newOwner != "" {
		return
	}

	c.mu.Lock()
	watchers := make([]bus.OwnerLostFunc, 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(name)
	}
}

// payload normalises nil bodies: D-Bus has no nil array.
func payload(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func toDBusError(err error) *godbus.Error {
	var be *bus.Error
	if errors.As(err, &be) {
		return godbus.NewError(be.Name, []interface{}{be.Message})
	}
	return godbus.MakeFailedError(err)
}

func fromDBusError(err error) error {
	var de godbus.Error
	if errors.As(err, &de) {
		return &bus.Error{Name: de.Name, Message: errorMessage(de.Body)}
	}
	var dep *godbus.Error
	if errors.As(err, &dep) {
		return &bus.Error{Name: dep.Name, Message: errorMessage(dep.Body)}
	}
	if errors.Is(err, godbus.ErrClosed) {
		return bus.ErrClosed
	}
	return err
}

func errorMessage(body []interface{}) string {
	if len(body) == 0 {
		return ""
	}
	if s, ok := body[0].(string); ok {
		return s
	}
	return fmt.Sprint(body[0])
}
