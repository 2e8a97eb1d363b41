package adapter

import (
	"context"

	"github.com/marmos91/dittovfs/pkg/registry"
)

// Adapter is a bus-facing service managed by DittoVFSServer.
//
// Each adapter exposes one surface on the bus (the mount tracker, a set of
// backend mounts) and provides a unified interface for lifecycle management.
// All adapters of a server share the same mount registry.
//
// Lifecycle:
//  1. Creation: Adapter is created with its configuration and bus connection
//  2. Registry injection: SetRegistry() provides the shared mount registry
//  3. Startup: Serve() exports the adapter's objects and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetRegistry() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve exports the adapter on the bus and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new requests (unexport objects)
	//   - Wait for in-flight requests to complete (with timeout)
	//   - Release bus resources
	//
	// If Serve returns before context cancellation, DittoVFSServer treats it
	// as a fatal error and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetRegistry injects the shared mount registry.
	//
	// Called exactly once by DittoVFSServer before Serve(). Adapters that do
	// not serve the registry may ignore it.
	SetRegistry(reg *registry.Registry)

	// Stop initiates graceful shutdown.
	//
	// Must be idempotent and safe to call concurrently with Serve(). The
	// context bounds how long Stop waits for in-flight requests.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable adapter name for logging and
	// metrics, e.g. "MountTracker" or "Backends".
	Protocol() string

	// Port returns the TCP port the adapter listens on, or 0 for adapters
	// that only talk over the bus.
	Port() int
}
