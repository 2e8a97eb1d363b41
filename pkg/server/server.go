package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/adapter"
	"github.com/marmos91/dittovfs/pkg/registry"
)

// DefaultStopTimeout bounds the Stop() calls issued on shutdown.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServed is returned by Serve when called more than once.
var ErrAlreadyServed = errors.New("server: Serve() has already been called")

// DittoVFSServer manages the lifecycle of the bus-facing adapters that share
// a mount registry.
//
// Architecture:
// The daemon is made of adapters: the mount tracker, which serves the
// registry on the bus, and the backends adapter, which mounts the
// configured backends and registers them with the tracker. All adapters
// share the same registry, so listeners attached to it (such as the Redis
// event publisher) observe every mount regardless of how it was registered.
//
// Lifecycle:
//  1. Creation: New() with the registry
//  2. Registration: AddAdapter() for each adapter
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation triggers graceful shutdown of all adapters
//
// Thread safety:
// DittoVFSServer is safe for concurrent use. AddAdapter() may be called
// concurrently with other methods. Serve() may only be called once.
//
// Example usage:
//
//	server := New(reg, 0)
//	server.AddAdapter(tracker.New(conn, trackerConfig, nil))
//	server.AddAdapter(mounts.New(dial, entries, mounts.Config{}, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := server.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type DittoVFSServer struct {
	// registry is the shared mount registry for all adapters
	registry *registry.Registry

	// stopTimeout bounds shutdown of the adapters
	stopTimeout time.Duration

	// adapters contains all registered adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and serving flag
	mu sync.RWMutex

	// served indicates whether Serve() has been called
	served bool
}

// New creates a new DittoVFSServer sharing reg between its adapters.
//
// A stopTimeout of 0 uses DefaultStopTimeout.
//
// Panics if reg is nil (indicates programmer error).
func New(reg *registry.Registry, stopTimeout time.Duration) *DittoVFSServer {
	if reg == nil {
		panic("registry cannot be nil")
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &DittoVFSServer{
		registry:    reg,
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// Registry returns the shared mount registry.
func (s *DittoVFSServer) Registry() *registry.Registry {
	return s.registry
}

// AddAdapter registers a new adapter with the server.
//
// This method injects the shared registry into the adapter and adds it to
// the list of adapters that will be started when Serve() is called.
//
// Each adapter must have a different protocol name. Adapters listening on a
// TCP port must not share it.
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called (server is running)
func (s *DittoVFSServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 means the adapter only talks over the bus
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter",
				port, existing.Protocol())
		}
	}

	// Inject shared registry
	a.SetRegistry(s.registry)

	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter", protocol)

	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Shutdown behavior:
// When the context is cancelled or an adapter fails:
//   - All adapters receive Stop() calls in reverse registration order
//   - Stop() calls share a timeout of stopTimeout
//   - Serve() waits for all adapters to complete before returning
//
// Returns:
//   - context.Canceled (or the context's error) if shutdown was triggered
//     by context cancellation
//   - an error naming the adapter if one failed
//   - ErrAlreadyServed if Serve() was called before
func (s *DittoVFSServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	return s.serve(ctx, adapters)
}

func (s *DittoVFSServer) serve(ctx context.Context, adapters []adapter.Adapter) error {
	logger.Info("Starting DittoVFSServer with %d adapter(s)", len(adapters))

	// Buffered to prevent goroutine leaks if multiple adapters fail simultaneously
	errChan := make(chan adapterError, len(adapters))

	// Adapters are not cancelled with ctx directly: on shutdown they are
	// stopped one by one in reverse order, and serveCtx is cancelled last.
	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	// stopping is set once shutdown starts; adapters returning after it are
	// not failures.
	var stopping atomic.Bool

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter", protocol)

			err := a.Serve(serveCtx)
			expected := stopping.Load() || serveCtx.Err() != nil
			switch {
			case err != nil && !errors.Is(err, context.Canceled) && !expected:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			case err == nil && !expected:
				// Returning before shutdown is fatal
				errChan <- adapterError{protocol: protocol, err: fmt.Errorf("stopped unexpectedly")}
			default:
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	stopping.Store(true)
	s.stopAllAdapters(adapters)
	cancel()

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("DittoVFSServer stopped")

	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters initiates graceful shutdown of all adapters in reverse
// registration order, so backends unregister while the tracker still
// serves. Errors are logged and do not stop the remaining adapters.
func (s *DittoVFSServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter", protocol)

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
//
// The returned slice is a copy and safe to iterate over without holding locks.
func (s *DittoVFSServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
