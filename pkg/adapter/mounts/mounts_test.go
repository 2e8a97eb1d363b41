package mounts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/adapter/tracker"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/backend/memory"
	"github.com/marmos91/dittovfs/pkg/bus"
	busmemory "github.com/marmos91/dittovfs/pkg/bus/memory"
	"github.com/marmos91/dittovfs/pkg/client"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTracker(t *testing.T) (*busmemory.Hub, *registry.Registry) {
	t.Helper()
	hub := busmemory.NewHub()
	daemon := hub.Connect()
	reg := registry.NewRegistry()
	tr := tracker.New(daemon, tracker.Config{}, nil)
	tr.SetRegistry(reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = daemon.Close()
	})
	require.Eventually(t, func() bool {
		_, ok := hub.NameOwner(wire.TrackerBusName)
		return ok
	}, time.Second, 5*time.Millisecond)
	return hub, reg
}

func entry(name string, spec *vfs.MountSpec, paths ...string) Entry {
	return Entry{
		Name:    name,
		Backend: memory.NewFromPaths(paths),
		Mount: backend.MountConfig{
			DisplayName: strings.ToUpper(name),
			Spec:        spec,
		},
	}
}

func TestDefaultObjectPath(t *testing.T) {
	p := DefaultObjectPath()
	assert.True(t, strings.HasPrefix(p, wire.MountPathPrefix))
	assert.NotContains(t, p, "-")
	assert.NotEqual(t, p, DefaultObjectPath())
}

func TestServeAndShutdown(t *testing.T) {
	hub, reg := startTracker(t)
	dial := func() (bus.Conn, error) { return hub.Connect(), nil }

	a := New(dial, []Entry{
		entry("docs", vfs.NewMountSpec("docs"), "/readme"),
		entry("photos", vfs.NewMountSpec("photos"), "/2024/"),
	}, Config{}, nil)
	assert.Equal(t, "Backends", a.Protocol())
	assert.Zero(t, a.Port())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return reg.CountMounts() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Active()) == 2 }, time.Second, 5*time.Millisecond)

	// A consumer can list a mounted backend.
	consumer := hub.Connect()
	defer consumer.Close()
	c := client.New(consumer, client.Options{})
	rec, err := c.LookupMount(ctx, vfs.NewMountSpec("docs"))
	require.NoError(t, err)
	assert.Equal(t, "DOCS", rec.DisplayName)
	assert.True(t, strings.HasPrefix(rec.ObjectPath, wire.MountPathPrefix))

	e, err := c.Enumerate(ctx, rec, "/")
	require.NoError(t, err)
	files, err := e.NextFiles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "readme", files[0].Name)
	require.NoError(t, e.Close())

	// Unmount releases only that backend.
	require.NoError(t, c.Unmount(ctx, rec))
	require.Eventually(t, func() bool { return reg.CountMounts() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Active()) == 1 }, time.Second, 5*time.Millisecond)
	_, err = c.LookupMount(ctx, vfs.NewMountSpec("docs"))
	assert.True(t, vfs.IsNotMounted(err))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	require.Eventually(t, func() bool { return reg.CountMounts() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.Active())
}

func TestServeRollsBackOnFailure(t *testing.T) {
	hub, reg := startTracker(t)
	dial := func() (bus.Conn, error) { return hub.Connect(), nil }

	bad := vfs.NewMountSpec("bad")
	bad.MountPrefix = "relative"

	a := New(dial, []Entry{
		entry("good", vfs.NewMountSpec("good")),
		entry("bad", bad),
	}, Config{}, nil)

	err := a.Serve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, vfs.ErrInvalidSpec)

	require.Eventually(t, func() bool { return reg.CountMounts() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.Active())
}

func TestStop(t *testing.T) {
	hub, reg := startTracker(t)
	dial := func() (bus.Conn, error) { return hub.Connect(), nil }

	a := New(dial, []Entry{entry("docs", vfs.NewMountSpec("docs"))}, Config{}, nil)
	done := make(chan error, 1)
	go func() { done <- a.Serve(context.Background()) }()
	require.Eventually(t, func() bool { return reg.CountMounts() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
	assert.Zero(t, reg.CountMounts())
}
