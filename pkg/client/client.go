// Package client is the consumer-side API of DittoVFS.
//
// A Client talks to the mount tracker (register, unregister, look up and
// list mounts, watch lifecycle signals) and opens directory listings on the
// backend that owns a mount, returning an enumerator that receives the
// streamed entries.
package client

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/bus"
	"github.com/marmos91/dittovfs/pkg/enumerator"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Options configures a Client.
type Options struct {
	// TrackerName and TrackerPath address the mount tracker. They default to
	// the standard daemon name and object path.
	TrackerName string
	TrackerPath string

	// Counter hands out enumerator addresses. Share one per process; a nil
	// counter gets a private one.
	Counter *enumerator.Counter

	// Enumerator holds the timeouts, scheduler and metrics used for every
	// enumerator the client creates. Mode is set by the client.
	Enumerator enumerator.Options

	// DialPrivate opens the private connection a synchronous listing pumps.
	// EnumerateSync fails with NotSupported when it is nil.
	DialPrivate func() (bus.Conn, error)
}

// Client is a handle on the tracker and the backends for one shared bus
// connection. It is safe for concurrent use.
type Client struct {
	conn bus.Conn
	opts Options
}

// New creates a client on a shared, externally dispatched connection.
func New(conn bus.Conn, opts Options) *Client {
	if opts.TrackerName == "" {
		opts.TrackerName = wire.TrackerBusName
	}
	if opts.TrackerPath == "" {
		opts.TrackerPath = wire.TrackerObjectPath
	}
	if opts.Counter == nil {
		opts.Counter = enumerator.NewCounter()
	}
	return &Client{conn: conn, opts: opts}
}

// Conn returns the client's shared connection.
func (c *Client) Conn() bus.Conn {
	return c.conn
}

func (c *Client) callTracker(ctx context.Context, method string, body []byte) ([]byte, error) {
	reply, err := c.conn.Call(ctx, &bus.Message{
		Destination: c.opts.TrackerName,
		Path:        c.opts.TrackerPath,
		Interface:   wire.TrackerInterface,
		Member:      method,
		Body:        body,
	})
	if err != nil {
		return nil, wire.FromBusError(err)
	}
	return reply, nil
}

// RegisterMount announces a mount served by this connection at objectPath.
// The tracker records the connection's unique name as the owner.
func (c *Client) RegisterMount(ctx context.Context, displayName, icon, objectPath string, spec *vfs.MountSpec) error {
	body := wire.MustEncode(&wire.RegisterMountArgs{
		DisplayName: displayName,
		Icon:        icon,
		ObjectPath:  objectPath,
		Spec:        wire.EncodeSpec(spec),
	})
	_, err := c.callTracker(ctx, wire.MethodRegisterMount, body)
	return err
}

// UnregisterMount withdraws a mount previously registered by this
// connection.
func (c *Client) UnregisterMount(ctx context.Context, objectPath string) error {
	body := wire.MustEncode(&wire.UnregisterMountArgs{ObjectPath: objectPath})
	_, err := c.callTracker(ctx, wire.MethodUnregisterMount, body)
	return err
}

// LookupMount returns the most recently registered mount serving spec.
// A location nobody serves yields an error for which vfs.IsNotMounted is
// true.
func (c *Client) LookupMount(ctx context.Context, spec *vfs.MountSpec) (*vfs.MountRecord, error) {
	body := wire.MustEncode(&wire.LookupMountArgs{Spec: wire.EncodeSpec(spec)})
	reply, err := c.callTracker(ctx, wire.MethodLookupMount, body)
	if err != nil {
		return nil, err
	}
	rec, err := wire.DecodeMountRecord(reply)
	if err != nil {
		return nil, vfs.NewError(vfs.CodeProtocol, fmt.Sprintf("invalid lookupMount reply: %v", err), "")
	}
	return rec, nil
}

// ListMounts returns every registered mount, most recent first.
func (c *Client) ListMounts(ctx context.Context) ([]*vfs.MountRecord, error) {
	reply, err := c.callTracker(ctx, wire.MethodListMounts, nil)
	if err != nil {
		return nil, err
	}

	var list wire.MountList
	if err := wire.Decode(reply, &list); err != nil {
		return nil, vfs.NewError(vfs.CodeProtocol, fmt.Sprintf("invalid listMounts reply: %v", err), "")
	}

	mounts := make([]*vfs.MountRecord, 0, len(list.Mounts))
	for _, w := range list.Mounts {
		rec, err := wire.RecordFromWire(w)
		if err != nil {
			logger.Warn("Skipping malformed mount in listMounts reply: %v", err)
			continue
		}
		mounts = append(mounts, rec)
	}
	return mounts, nil
}

// Watch delivers the tracker's mounted/unmounted signals to fn until the
// returned function is called. Signals with an undecodable body are
// dropped.
func (c *Client) Watch(fn func(vfs.MountEvent)) (func(), error) {
	return c.conn.Subscribe(wire.TrackerInterface, func(msg *bus.Message) {
		var kind vfs.MountEventKind
		switch msg.Member {
		case wire.SignalMounted:
			kind = vfs.MountAdded
		case wire.SignalUnmounted:
			kind = vfs.MountRemoved
		default:
			return
		}

		rec, err := wire.DecodeMountRecord(msg.Body)
		if err != nil {
			logger.Warn("Dropping malformed %s signal from %s: %v", msg.Member, msg.Sender, err)
			return
		}
		fn(vfs.MountEvent{Kind: kind, Mount: rec})
	})
}

// Unmount asks the backend owning mount to shut it down.
func (c *Client) Unmount(ctx context.Context, mount *vfs.MountRecord) error {
	_, err := c.conn.Call(ctx, &bus.Message{
		Destination: mount.OwnerID,
		Path:        mount.ObjectPath,
		Interface:   wire.MountInterface,
		Member:      wire.MethodUnmount,
	})
	return wire.FromBusError(err)
}

// Enumerate starts an asynchronous listing of path on mount. The returned
// enumerator is served by the client's shared connection; consume it with
// NextFilesAsync or NextFiles and Close it when done.
func (c *Client) Enumerate(ctx context.Context, mount *vfs.MountRecord, path string) (*enumerator.Enumerator, error) {
	opts := c.opts.Enumerator
	opts.Mode = enumerator.ModeAsync
	return c.enumerate(ctx, c.conn, mount, path, opts)
}

// SyncListing is a synchronous enumerator together with the private
// connection it pumps.
type SyncListing struct {
	*enumerator.Enumerator
	conn bus.Conn
}

// Close releases the enumerator and its private connection.
func (s *SyncListing) Close() error {
	err := s.Enumerator.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// EnumerateSync starts a listing consumed with NextFile on a private
// connection owned by the returned SyncListing.
func (c *Client) EnumerateSync(ctx context.Context, mount *vfs.MountRecord, path string) (*SyncListing, error) {
	if c.opts.DialPrivate == nil {
		return nil, vfs.NewError(vfs.CodeNotSupported, "no private connection available for synchronous listing", path)
	}

	private, err := c.opts.DialPrivate()
	if err != nil {
		return nil, fmt.Errorf("failed to open private connection: %w", err)
	}

	opts := c.opts.Enumerator
	opts.Mode = enumerator.ModeSync
	e, err := c.enumerate(ctx, private, mount, path, opts)
	if err != nil {
		_ = private.Close()
		return nil, err
	}
	return &SyncListing{Enumerator: e, conn: private}, nil
}

// enumerate creates the enumerator first so that its address exists before
// the backend starts streaming, then asks the backend to list path. The
// enumerator is released on every failure.
func (c *Client) enumerate(ctx context.Context, conn bus.Conn, mount *vfs.MountRecord, path string, opts enumerator.Options) (*enumerator.Enumerator, error) {
	e, err := enumerator.New(conn, c.opts.Counter, opts)
	if err != nil {
		return nil, err
	}

	body := wire.MustEncode(&wire.EnumerateArgs{Path: path, EnumeratorPath: e.ObjectPath()})
	_, err = conn.Call(ctx, &bus.Message{
		Destination: mount.OwnerID,
		Path:        mount.ObjectPath,
		Interface:   wire.MountInterface,
		Member:      wire.MethodEnumerate,
		Body:        body,
	})
	if err != nil {
		_ = e.Close()
		return nil, wire.FromBusError(err)
	}
	return e, nil
}
