package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/adapter/mounts"
	"github.com/marmos91/dittovfs/pkg/adapter/tracker"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/backend/memory"
	"github.com/marmos91/dittovfs/pkg/bus"
	busmemory "github.com/marmos91/dittovfs/pkg/bus/memory"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until its context is cancelled, Stop is
// called, or it is told to fail.
type fakeAdapter struct {
	protocol string
	port     int

	mu  sync.Mutex
	reg *registry.Registry
	log *[]string // shared log of stop order

	fail     chan error
	stopOnce sync.Once
	stop     chan struct{}
}

func newFake(protocol string, port int, log *[]string) *fakeAdapter {
	return &fakeAdapter{
		protocol: protocol,
		port:     port,
		log:      log,
		fail:     make(chan error, 1),
		stop:     make(chan struct{}),
	}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stop:
		return nil
	case err := <-f.fail:
		return err
	}
}

func (f *fakeAdapter) SetRegistry(reg *registry.Registry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reg = reg
}

var logMu sync.Mutex

func (f *fakeAdapter) Stop(context.Context) error {
	if f.log != nil {
		logMu.Lock()
		*f.log = append(*f.log, f.protocol)
		logMu.Unlock()
	}
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

// ============================================================================
// AddAdapter
// ============================================================================

func TestAddAdapter(t *testing.T) {
	t.Run("InjectsRegistry", func(t *testing.T) {
		reg := registry.NewRegistry()
		s := New(reg, 0)
		a := newFake("A", 0, nil)

		require.NoError(t, s.AddAdapter(a))
		assert.Same(t, reg, a.reg)
		assert.Same(t, reg, s.Registry())
		assert.Len(t, s.Adapters(), 1)
	})

	t.Run("DuplicateProtocol", func(t *testing.T) {
		s := New(registry.NewRegistry(), 0)
		require.NoError(t, s.AddAdapter(newFake("A", 0, nil)))
		assert.Error(t, s.AddAdapter(newFake("A", 0, nil)))
	})

	t.Run("BusOnlyAdaptersShareNoPort", func(t *testing.T) {
		s := New(registry.NewRegistry(), 0)
		require.NoError(t, s.AddAdapter(newFake("A", 0, nil)))
		require.NoError(t, s.AddAdapter(newFake("B", 0, nil)))
	})

	t.Run("PortConflict", func(t *testing.T) {
		s := New(registry.NewRegistry(), 0)
		require.NoError(t, s.AddAdapter(newFake("A", 9090, nil)))
		assert.Error(t, s.AddAdapter(newFake("B", 9090, nil)))
	})

	t.Run("AdaptersIsACopy", func(t *testing.T) {
		s := New(registry.NewRegistry(), 0)
		require.NoError(t, s.AddAdapter(newFake("A", 0, nil)))
		snapshot := s.Adapters()
		snapshot[0] = nil
		assert.NotNil(t, s.Adapters()[0])
	})

	t.Run("NilRegistryPanics", func(t *testing.T) {
		assert.Panics(t, func() { New(nil, 0) })
	})
}

// ============================================================================
// Serve
// ============================================================================

func TestServe(t *testing.T) {
	t.Run("NoAdapters", func(t *testing.T) {
		s := New(registry.NewRegistry(), 0)
		assert.Error(t, s.Serve(context.Background()))
	})

	t.Run("CancelStopsInReverseOrder", func(t *testing.T) {
		var order []string
		s := New(registry.NewRegistry(), time.Second)
		require.NoError(t, s.AddAdapter(newFake("A", 0, &order)))
		require.NoError(t, s.AddAdapter(newFake("B", 0, &order)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx) }()

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}

		logMu.Lock()
		defer logMu.Unlock()
		assert.Equal(t, []string{"B", "A"}, order)
	})

	t.Run("AdapterFailureStopsOthers", func(t *testing.T) {
		s := New(registry.NewRegistry(), time.Second)
		a := newFake("A", 0, nil)
		b := newFake("B", 0, nil)
		require.NoError(t, s.AddAdapter(a))
		require.NoError(t, s.AddAdapter(b))

		boom := errors.New("boom")
		a.fail <- boom

		err := s.Serve(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "A adapter error")

		select {
		case <-b.stop:
		default:
			t.Fatal("B was not stopped")
		}
	})

	t.Run("OnlyOnce", func(t *testing.T) {
		s := New(registry.NewRegistry(), time.Second)
		require.NoError(t, s.AddAdapter(newFake("A", 0, nil)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = s.Serve(ctx)
		assert.ErrorIs(t, s.Serve(ctx), ErrAlreadyServed)
		assert.Panics(t, func() { _ = s.AddAdapter(newFake("B", 0, nil)) })
	})
}

// ============================================================================
// Daemon wiring
// ============================================================================

func TestServeTrackerAndBackends(t *testing.T) {
	hub := busmemory.NewHub()
	daemon := hub.Connect()
	defer daemon.Close()

	reg := registry.NewRegistry()
	s := New(reg, 2*time.Second)
	require.NoError(t, s.AddAdapter(tracker.New(daemon, tracker.Config{}, nil)))
	require.NoError(t, s.AddAdapter(mounts.New(
		func() (bus.Conn, error) { return hub.Connect(), nil },
		[]mounts.Entry{{
			Name:    "docs",
			Backend: memory.NewFromPaths([]string{"/readme"}),
			Mount:   backend.MountConfig{DisplayName: "Docs", Spec: vfs.NewMountSpec("docs")},
		}},
		mounts.Config{},
		nil,
	)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	// The backend registers once the tracker has claimed its name.
	require.Eventually(t, func() bool { return reg.CountMounts() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, ok := hub.NameOwner(wire.TrackerBusName)
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	// Backends were stopped, and unregistered, before the tracker.
	assert.Zero(t, reg.CountMounts())
}
