// Package mounts serves the configured backends on the bus.
//
// Each backend gets a connection of its own, exports a mount object on it
// and registers that mount with the tracker. Because the tracker keys mounts
// by the registering connection, closing a backend's connection is enough to
// revoke its mount even if the process dies before unregistering.
package mounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/adapter"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/bus"
	"github.com/marmos91/dittovfs/pkg/client"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/registry"
	"golang.org/x/sync/errgroup"
)

// Entry is one backend to serve.
type Entry struct {
	// Name identifies the backend in logs.
	Name    string
	Backend backend.Backend
	Mount   backend.MountConfig
}

// Config configures the adapter.
type Config struct {
	// TrackerName and TrackerPath address the mount tracker. Empty values
	// use the standard daemon name and path.
	TrackerName string
	TrackerPath string

	// RegisterTimeout bounds each registerMount call. Default: 10s.
	RegisterTimeout time.Duration

	// ShutdownTimeout bounds unregistering and draining streams on
	// shutdown. Default: 10s.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// DefaultObjectPath returns a fresh object path below wire.MountPathPrefix.
func DefaultObjectPath() string {
	return wire.MountPathPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// served is a backend that is exported and registered.
type served struct {
	entry  Entry
	conn   bus.Conn
	mount  *backend.Mount
	client *client.Client
}

// Adapter serves a set of backends. It implements adapter.Adapter.
type Adapter struct {
	dial    func() (bus.Conn, error)
	entries []Entry
	config  Config
	metrics metrics.BackendMetrics

	mu     sync.Mutex
	active map[string]*served // by object path

	shutdownOnce sync.Once
	shutdown     chan struct{}
	wg           sync.WaitGroup

	// started is set by Serve; serveDone is closed when Serve returns.
	started   atomic.Bool
	serveDone chan struct{}
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an adapter for entries. dial opens a new bus connection; it is
// called once per backend. Entries without an object path get one from
// DefaultObjectPath.
func New(dial func() (bus.Conn, error), entries []Entry, config Config, backendMetrics metrics.BackendMetrics) *Adapter {
	config.applyDefaults()
	if backendMetrics == nil {
		backendMetrics = metrics.NewNoopBackendMetrics()
	}
	for i := range entries {
		if entries[i].Mount.ObjectPath == "" {
			entries[i].Mount.ObjectPath = DefaultObjectPath()
		}
	}
	return &Adapter{
		dial:     dial,
		entries:  entries,
		config:   config,
		metrics:  backendMetrics,
		active:    make(map[string]*served),
		shutdown:  make(chan struct{}),
		serveDone: make(chan struct{}),
	}
}

// SetRegistry is a no-op: backends reach the tracker over the bus like any
// other peer.
func (a *Adapter) SetRegistry(*registry.Registry) {}

// Serve mounts every backend concurrently, then blocks until ctx is
// cancelled or Stop is called. If any backend fails to mount, the ones
// already mounted are released and the error is returned.
func (a *Adapter) Serve(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("backends adapter already serving")
	}
	defer close(a.serveDone)

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range a.entries {
		entry := e
		g.Go(func() error {
			return a.start(gctx, entry)
		})
	}
	if err := g.Wait(); err != nil {
		a.initiateShutdown()
		a.releaseAll()
		a.wg.Wait()
		return err
	}
	logger.Info("Backends adapter serving %d mount(s)", len(a.entries))

	select {
	case <-ctx.Done():
		logger.Info("Backends adapter shutdown signal received: %v", ctx.Err())
	case <-a.shutdown:
	}

	a.initiateShutdown()
	a.releaseAll()
	a.wg.Wait()
	return nil
}

func (a *Adapter) start(ctx context.Context, e Entry) error {
	conn, err := a.dial()
	if err != nil {
		return fmt.Errorf("backend %q: failed to connect to bus: %w", e.Name, err)
	}

	s := &served{
		entry: e,
		conn:  conn,
		mount: backend.NewMount(conn, e.Backend, e.Mount, a.metrics),
		client: client.New(conn, client.Options{
			TrackerName: a.config.TrackerName,
			TrackerPath: a.config.TrackerPath,
		}),
	}

	if err := s.mount.Export(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("backend %q: %w", e.Name, err)
	}

	if err := a.register(ctx, s); err != nil {
		_ = s.mount.Close()
		_ = conn.Close()
		return fmt.Errorf("backend %q: failed to register mount: %w", e.Name, err)
	}

	a.mu.Lock()
	a.active[e.Mount.ObjectPath] = s
	a.mu.Unlock()

	logger.Info("Mounted %s backend %q as %q (%s) at %s%s",
		e.Backend.Type(), e.Name, e.Mount.DisplayName, e.Mount.Spec, conn.UniqueName(), e.Mount.ObjectPath)

	a.wg.Add(1)
	go a.watchUnmount(s)
	return nil
}

// register announces the mount to the tracker. While the tracker has not
// claimed its name yet (it may be starting in the same process), the call is
// retried until RegisterTimeout.
func (a *Adapter) register(ctx context.Context, s *served) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.RegisterTimeout)
	defer cancel()

	delay := 10 * time.Millisecond
	for {
		m := s.entry.Mount
		err := s.client.RegisterMount(ctx, m.DisplayName, m.Icon, m.ObjectPath, m.Spec)
		if err == nil || bus.ErrorName(err) != bus.ErrorNameServiceUnknown {
			return err
		}

		logger.Debug("Backend %q: tracker not available yet, retrying in %s", s.entry.Name, delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay *= 2
		}
	}
}

// watchUnmount releases a backend when a client asks it to unmount.
func (a *Adapter) watchUnmount(s *served) {
	defer a.wg.Done()
	select {
	case <-s.mount.Unmounted():
		logger.Info("Unmount requested for backend %q", s.entry.Name)
		if a.take(s.entry.Mount.ObjectPath) {
			a.release(s)
		}
	case <-a.shutdown:
	}
}

// take removes a backend from the active set, reporting whether the caller
// now owns its release.
func (a *Adapter) take(objectPath string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.active[objectPath]; !ok {
		return false
	}
	delete(a.active, objectPath)
	return true
}

// release unregisters, unexports and disconnects a backend, then closes it.
func (a *Adapter) release(s *served) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	err := s.client.UnregisterMount(ctx, s.entry.Mount.ObjectPath)
	if err != nil && !errors.Is(err, bus.ErrClosed) {
		// Closing the connection below revokes the mount anyway.
		logger.Debug("Backend %q: unregister failed: %v", s.entry.Name, err)
	}
	_ = s.mount.Close()
	if err := s.conn.Close(); err != nil {
		logger.Debug("Backend %q: error closing bus connection: %v", s.entry.Name, err)
	}
	if err := s.entry.Backend.Close(); err != nil {
		logger.Warn("Backend %q: error closing backend: %v", s.entry.Name, err)
	}
	logger.Info("Released backend %q", s.entry.Name)
}

func (a *Adapter) releaseAll() {
	a.mu.Lock()
	all := make([]*served, 0, len(a.active))
	for path, s := range a.active {
		all = append(all, s)
		delete(a.active, path)
	}
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *served) {
			defer wg.Done()
			a.release(s)
		}(s)
	}
	wg.Wait()
}

func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("Backends adapter shutdown initiated")
		close(a.shutdown)
	})
}

// Stop initiates shutdown and waits until Serve has released every backend.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()
	if !a.started.Load() {
		return nil
	}

	select {
	case <-a.serveDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the object paths of the mounted backends.
func (a *Adapter) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for path := range a.active {
		out = append(out, path)
	}
	return out
}

// Protocol returns "Backends".
func (a *Adapter) Protocol() string {
	return "Backends"
}

// Port returns 0: backends only talk over the bus.
func (a *Adapter) Port() int {
	return 0
}
