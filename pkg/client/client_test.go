package client_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/adapter/tracker"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/backend/memory"
	"github.com/marmos91/dittovfs/pkg/bus"
	busmemory "github.com/marmos91/dittovfs/pkg/bus/memory"
	"github.com/marmos91/dittovfs/pkg/client"
	"github.com/marmos91/dittovfs/pkg/enumerator"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fixture: a tracker plus one memory backend mounted on its own connection
// ============================================================================

type fixture struct {
	hub    *busmemory.Hub
	reg    *registry.Registry
	mount  *backend.Mount
	client *client.Client
	record *vfs.MountRecord
}

func setup(t *testing.T, paths []string) *fixture {
	t.Helper()
	ctx := context.Background()
	hub := busmemory.NewHub()

	daemon := hub.Connect()
	reg := registry.NewRegistry()
	tr := tracker.New(daemon, tracker.Config{}, nil)
	tr.SetRegistry(reg)

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- tr.Serve(serveCtx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = daemon.Close()
	})
	require.Eventually(t, func() bool {
		_, ok := hub.NameOwner(wire.TrackerBusName)
		return ok
	}, time.Second, 5*time.Millisecond)

	owner := hub.Connect()
	t.Cleanup(func() { _ = owner.Close() })
	spec := vfs.NewMountSpec("memory")
	m := backend.NewMount(owner, memory.NewFromPaths(paths), backend.MountConfig{
		DisplayName: "Demo",
		ObjectPath:  wire.MountPathPrefix + "demo",
		Spec:        spec,
		BatchSize:   2,
	}, nil)
	require.NoError(t, m.Export())
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, client.New(owner, client.Options{}).RegisterMount(ctx, "Demo", "", wire.MountPathPrefix+"demo", spec))

	consumer := hub.Connect()
	t.Cleanup(func() { _ = consumer.Close() })
	c := client.New(consumer, client.Options{
		DialPrivate: func() (bus.Conn, error) { return hub.ConnectPrivate(), nil },
		Enumerator:  enumerator.Options{Timeout: 2 * time.Second, PollInterval: 10 * time.Millisecond},
	})

	rec, err := c.LookupMount(ctx, spec)
	require.NoError(t, err)

	return &fixture{hub: hub, reg: reg, mount: m, client: c, record: rec}
}

func files(n int) []string {
	var paths []string
	for i := 0; i < n; i++ {
		paths = append(paths, fmt.Sprintf("/docs/f%02d", i))
	}
	return paths
}

func names(entries []*vfs.FileInfo) []string {
	out := make([]string, 0, len(entries))
	for _, fi := range entries {
		out = append(out, fi.Name)
	}
	return out
}

// ============================================================================
// Listings
// ============================================================================

func TestEnumerateAsync(t *testing.T) {
	f := setup(t, files(5))
	ctx := context.Background()

	e, err := f.client.Enumerate(ctx, f.record, "/docs")
	require.NoError(t, err)
	defer e.Close()

	var got []*vfs.FileInfo
	for {
		batch, err := e.NextFiles(ctx, 3)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		got = append(got, batch...)
	}
	assert.Equal(t, []string{"f00", "f01", "f02", "f03", "f04"}, names(got))
}

func TestEnumerateSync(t *testing.T) {
	f := setup(t, append(files(3), "/docs/sub/"))
	ctx := context.Background()

	listing, err := f.client.EnumerateSync(ctx, f.record, "/docs")
	require.NoError(t, err)
	defer listing.Close()

	var got []*vfs.FileInfo
	for {
		fi, err := listing.NextFile()
		require.NoError(t, err)
		if fi == nil {
			break
		}
		got = append(got, fi)
	}
	assert.Equal(t, []string{"f00", "f01", "f02", "sub"}, names(got))
	assert.True(t, got[3].IsDir())
}

func TestEnumerateSyncWithoutPrivateConnection(t *testing.T) {
	f := setup(t, nil)
	c := client.New(f.client.Conn(), client.Options{})

	_, err := c.EnumerateSync(context.Background(), f.record, "/")
	assert.ErrorIs(t, err, vfs.ErrNotSupported)
}

func TestEnumerateFailure(t *testing.T) {
	f := setup(t, files(1))
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		_, err := f.client.Enumerate(ctx, f.record, "/missing")
		assert.ErrorIs(t, err, vfs.ErrNotFound)
	})

	t.Run("NotDirectory", func(t *testing.T) {
		_, err := f.client.Enumerate(ctx, f.record, "/docs/f00")
		assert.ErrorIs(t, err, vfs.ErrNotDirectory)
	})

	t.Run("OwnerGone", func(t *testing.T) {
		gone := *f.record
		gone.OwnerID = ":nobody"
		_, err := f.client.Enumerate(ctx, &gone, "/docs")
		assert.Equal(t, bus.ErrorNameServiceUnknown, bus.ErrorName(err))
	})
}

// ============================================================================
// Tracker proxy and unmount
// ============================================================================

func TestListAndWatch(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	events := make(chan vfs.MountEvent, 4)
	stop, err := f.client.Watch(func(ev vfs.MountEvent) { events <- ev })
	require.NoError(t, err)
	defer stop()

	mounts, err := f.client.ListMounts(ctx)
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, "Demo", mounts[0].DisplayName)

	other := f.hub.Connect()
	require.NoError(t, client.New(other, client.Options{}).RegisterMount(ctx, "Other", "", "/m/other", vfs.NewMountSpec("other")))

	select {
	case ev := <-events:
		assert.Equal(t, vfs.MountAdded, ev.Kind)
		assert.Equal(t, "Other", ev.Mount.DisplayName)
	case <-time.After(time.Second):
		t.Fatal("no mounted signal")
	}

	require.NoError(t, other.Close())

	select {
	case ev := <-events:
		assert.Equal(t, vfs.MountRemoved, ev.Kind)
		assert.Equal(t, other.UniqueName(), ev.Mount.OwnerID)
	case <-time.After(time.Second):
		t.Fatal("no unmounted signal")
	}
}

func TestUnmount(t *testing.T) {
	f := setup(t, nil)

	require.NoError(t, f.client.Unmount(context.Background(), f.record))

	select {
	case <-f.mount.Unmounted():
	case <-time.After(time.Second):
		t.Fatal("mount did not observe the unmount request")
	}
}
