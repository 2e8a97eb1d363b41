// Package tracker exposes the mount registry on the bus.
//
// The Tracker claims the daemon's well-known name, exports the
// MountTracker interface (registerMount, unregisterMount, lookupMount,
// listMounts), re-broadcasts registry changes as mounted/unmounted signals
// and revokes the mounts of every bus peer that disappears.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/internal/ratelimiter"
	"github.com/marmos91/dittovfs/pkg/bus"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Tracker implements the adapter.Adapter interface for the mount tracker.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Tracker object unexported (new calls fail with UnknownObject)
//  3. Owner-lost watch and registry subscription released
//  4. Wait for in-flight calls to complete (up to ShutdownTimeout)
//
// Thread safety:
// All methods are safe for concurrent use. Bus handlers may run
// concurrently depending on the bus implementation; the registry does its
// own locking.
type Tracker struct {
	config  Config
	conn    bus.Conn
	reg     *registry.Registry
	limiter *ratelimiter.KeyedLimiter
	metrics metrics.TrackerMetrics

	// inFlight tracks handler invocations for graceful shutdown.
	inFlight  sync.WaitGroup
	callCount atomic.Int32

	shutdownOnce sync.Once
	shutdown     chan struct{}

	mu          sync.Mutex
	unsubscribe func()
	unwatch     func()
}

// Config holds the mount tracker settings.
type Config struct {
	// BusName is the well-known name claimed on the bus.
	BusName string `mapstructure:"bus_name" yaml:"bus_name" validate:"required"`

	// ObjectPath is where the tracker object is exported.
	ObjectPath string `mapstructure:"object_path" yaml:"object_path" validate:"required,startswith=/"`

	// RateLimit throttles method calls per caller.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// ShutdownTimeout bounds how long shutdown waits for in-flight calls.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`
}

// RateLimitConfig configures per-caller throttling. RequestsPerSecond = 0
// disables it.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             uint `mapstructure:"burst" yaml:"burst"`
}

func (c *Config) applyDefaults() {
	if c.BusName == "" {
		c.BusName = wire.TrackerBusName
	}
	if c.ObjectPath == "" {
		c.ObjectPath = wire.TrackerObjectPath
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerSecond * 2
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// New creates a tracker serving on conn. conn must be a shared (externally
// dispatched) connection. A nil trackerMetrics disables metrics.
func New(conn bus.Conn, config Config, trackerMetrics metrics.TrackerMetrics) *Tracker {
	config.applyDefaults()

	if trackerMetrics == nil {
		trackerMetrics = metrics.NewNoopTrackerMetrics()
	}

	return &Tracker{
		config:   config,
		conn:     conn,
		limiter:  ratelimiter.NewKeyed(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst),
		metrics:  trackerMetrics,
		shutdown: make(chan struct{}),
	}
}

// SetRegistry injects the mount registry served by the tracker.
func (t *Tracker) SetRegistry(reg *registry.Registry) {
	t.reg = reg
	reg.SetMetrics(t.metrics)
	logger.Debug("MountTracker registry configured")
}

// Registry returns the served registry.
func (t *Tracker) Registry() *registry.Registry {
	return t.reg
}

// Serve claims the tracker's bus name, exports its methods and blocks
// until ctx is cancelled or Stop is called.
func (t *Tracker) Serve(ctx context.Context) error {
	if t.reg == nil {
		return fmt.Errorf("mount tracker has no registry")
	}

	if err := t.start(); err != nil {
		t.release()
		return err
	}
	logger.Info("MountTracker serving %s at %s (owner %s)", t.config.BusName, t.config.ObjectPath, t.conn.UniqueName())

	select {
	case <-ctx.Done():
		logger.Info("MountTracker shutdown signal received: %v", ctx.Err())
	case <-t.shutdown:
	}

	t.initiateShutdown()
	return t.gracefulShutdown(t.config.ShutdownTimeout)
}

func (t *Tracker) start() error {
	// The owner-lost watch is installed before the name is claimed so that no
	// registering peer can vanish unnoticed.
	unwatch, err := t.conn.WatchOwnerLost(t.ownerLost)
	if err != nil {
		return fmt.Errorf("failed to watch bus owners: %w", err)
	}

	t.mu.Lock()
	t.unwatch = unwatch
	t.unsubscribe = t.reg.Subscribe(&signalEmitter{conn: t.conn, path: t.config.ObjectPath})
	t.mu.Unlock()

	methods := map[string]bus.Handler{
		wire.MethodRegisterMount:   t.wrap(wire.MethodRegisterMount, t.handleRegisterMount),
		wire.MethodUnregisterMount: t.wrap(wire.MethodUnregisterMount, t.handleUnregisterMount),
		wire.MethodLookupMount:     t.wrap(wire.MethodLookupMount, t.handleLookupMount),
		wire.MethodListMounts:      t.wrap(wire.MethodListMounts, t.handleListMounts),
	}
	if err := t.conn.Export(t.config.ObjectPath, wire.TrackerInterface, methods); err != nil {
		return fmt.Errorf("failed to export mount tracker at %s: %w", t.config.ObjectPath, err)
	}

	if err := t.conn.RequestName(t.config.BusName); err != nil {
		return fmt.Errorf("failed to acquire bus name %q: %w", t.config.BusName, err)
	}
	return nil
}

// Stop initiates shutdown and waits for in-flight calls, bounded by ctx.
func (t *Tracker) Stop(ctx context.Context) error {
	t.initiateShutdown()

	if ctx == nil {
		return t.gracefulShutdown(t.config.ShutdownTimeout)
	}

	done := make(chan struct{})
	go func() {
		t.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("MountTracker shutdown context cancelled: %d call(s) still active: %v",
			t.callCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

func (t *Tracker) initiateShutdown() {
	t.shutdownOnce.Do(func() {
		logger.Debug("MountTracker shutdown initiated")
		close(t.shutdown)
		t.release()
	})
}

func (t *Tracker) release() {
	if err := t.conn.Export(t.config.ObjectPath, wire.TrackerInterface, nil); err != nil {
		logger.Debug("Error unexporting mount tracker: %v", err)
	}

	t.mu.Lock()
	unwatch, unsubscribe := t.unwatch, t.unsubscribe
	t.unwatch, t.unsubscribe = nil, nil
	t.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (t *Tracker) gracefulShutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("MountTracker graceful shutdown complete")
		return nil
	case <-time.After(timeout):
		remaining := t.callCount.Load()
		logger.Warn("MountTracker shutdown timeout exceeded: %d call(s) still active after %v", remaining, timeout)
		return fmt.Errorf("mount tracker shutdown timeout: %d calls still active", remaining)
	}
}

// Protocol returns "MountTracker".
func (t *Tracker) Protocol() string {
	return "MountTracker"
}

// Port returns 0: the tracker only talks over the bus.
func (t *Tracker) Port() int {
	return 0
}

// ownerLost revokes the mounts of a peer that left the bus.
func (t *Tracker) ownerLost(name string) {
	t.limiter.Forget(name)
	if n := t.reg.OnOwnerLost(name); n > 0 {
		logger.Info("MountTracker: %s left the bus, revoked %d mount(s)", name, n)
	}
}

type handlerFunc func(ctx context.Context, msg *bus.Message) ([]byte, error)

// wrap adds rate limiting, in-flight accounting, metrics and error mapping
// around a handler.
func (t *Tracker) wrap(method string, h handlerFunc) bus.Handler {
	return func(ctx context.Context, msg *bus.Message) ([]byte, error) {
		select {
		case <-t.shutdown:
			return nil, bus.NewError(bus.ErrorNameUnknownObject, "mount tracker is shutting down")
		default:
		}

		if !t.limiter.Allow(msg.Sender) {
			t.metrics.RecordThrottled(method)
			logger.Debug("MountTracker: throttled %s from %s", method, msg.Sender)
			return nil, bus.NewError(bus.ErrorNameFailed, "rate limit exceeded")
		}

		t.inFlight.Add(1)
		t.callCount.Add(1)
		defer func() {
			t.callCount.Add(-1)
			t.inFlight.Done()
		}()

		start := time.Now()
		body, err := h(ctx, msg)
		t.metrics.RecordRequest(method, time.Since(start), err)

		if err != nil {
			logger.Debug("MountTracker: %s from %s failed: %v", method, msg.Sender, err)
			return nil, wire.ToBusError(err)
		}
		return body, nil
	}
}

func (t *Tracker) handleRegisterMount(_ context.Context, msg *bus.Message) ([]byte, error) {
	var args wire.RegisterMountArgs
	if err := wire.Decode(msg.Body, &args); err != nil {
		return nil, bus.NewError(bus.ErrorNameInvalidArgs, "invalid registerMount arguments: %v", err)
	}
	if args.ObjectPath == "" {
		return nil, bus.NewError(bus.ErrorNameInvalidArgs, "registerMount: empty object path")
	}

	if _, err := t.reg.RegisterMount(msg.Sender, args.DisplayName, args.Icon, args.ObjectPath, args.Spec); err != nil {
		return nil, err
	}
	return nil, nil
}

func (t *Tracker) handleUnregisterMount(_ context.Context, msg *bus.Message) ([]byte, error) {
	var args wire.UnregisterMountArgs
	if err := wire.Decode(msg.Body, &args); err != nil {
		return nil, bus.NewError(bus.ErrorNameInvalidArgs, "invalid unregisterMount arguments: %v", err)
	}

	if _, err := t.reg.UnregisterMount(msg.Sender, args.ObjectPath); err != nil {
		return nil, err
	}
	return nil, nil
}

func (t *Tracker) handleLookupMount(_ context.Context, msg *bus.Message) ([]byte, error) {
	var args wire.LookupMountArgs
	if err := wire.Decode(msg.Body, &args); err != nil {
		return nil, bus.NewError(bus.ErrorNameInvalidArgs, "invalid lookupMount arguments: %v", err)
	}

	rec, err := t.reg.LookupMount(args.Spec)
	if err != nil {
		return nil, err
	}
	return wire.EncodeMountRecord(rec), nil
}

func (t *Tracker) handleListMounts(_ context.Context, _ *bus.Message) ([]byte, error) {
	mounts := t.reg.ListMounts()
	list := wire.MountList{Mounts: make([]wire.MountRecord, len(mounts))}
	for i, m := range mounts {
		list.Mounts[i] = wire.RecordToWire(m)
	}
	return wire.MustEncode(&list), nil
}

// signalEmitter re-broadcasts registry events as bus signals.
type signalEmitter struct {
	conn bus.Conn
	path string
}

func (s *signalEmitter) Mounted(rec *vfs.MountRecord) {
	s.emit(wire.SignalMounted, rec)
}

func (s *signalEmitter) Unmounted(rec *vfs.MountRecord) {
	s.emit(wire.SignalUnmounted, rec)
}

func (s *signalEmitter) emit(member string, rec *vfs.MountRecord) {
	if err := s.conn.Emit(s.path, wire.TrackerInterface, member, wire.EncodeMountRecord(rec)); err != nil {
		logger.Warn("MountTracker: failed to emit %s for %s: %v", member, rec.ObjectPath, err)
	}
}
