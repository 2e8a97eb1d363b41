package volume

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/client"
	"github.com/marmos91/dittovfs/pkg/completion"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// RemoteVolume is a mount registered with the tracker.
type RemoteVolume struct {
	client   *client.Client
	mount    *vfs.MountRecord
	schedule completion.Scheduler
}

var _ Volume = (*RemoteVolume)(nil)

// PlatformID is the mount spec: two monitors seeing the same spec see the
// same volume.
func (v *RemoteVolume) PlatformID() string {
	return v.mount.Spec.String()
}

func (v *RemoteVolume) Name() string {
	return v.mount.DisplayName
}

func (v *RemoteVolume) Icon() string {
	return v.mount.Icon
}

func (v *RemoteVolume) Root() *vfs.MountRecord {
	return v.mount
}

func (v *RemoteVolume) Drive() Drive {
	return nil
}

func (v *RemoteVolume) CanUnmount() bool {
	return true
}

func (v *RemoteVolume) CanEject() bool {
	return false
}

// Unmount asks the owning backend to drop the mount.
func (v *RemoteVolume) Unmount(ctx context.Context, cb Callback) {
	go func() {
		err := v.client.Unmount(ctx, v.mount)
		if cb != nil {
			cb(err)
		}
	}()
}

func (v *RemoteVolume) Eject(_ context.Context, cb Callback) {
	if cb == nil {
		return
	}
	err := notSupported("eject")
	v.schedule(func() { cb(err) })
}

func (v *RemoteVolume) String() string {
	return fmt.Sprintf("remote volume %s", v.mount)
}

// RemoteMonitor keeps one RemoteVolume per mount known to the tracker.
//
// Signals are watched before the initial listing is fetched, so a mount
// registered in between is seen either way and never twice.
type RemoteMonitor struct {
	client   *client.Client
	schedule completion.Scheduler
	stop     func()

	mu       sync.Mutex
	volumes  []*RemoteVolume // tracker order, most recent first
	subs     map[uint64]func(Event)
	nextSub  uint64
	closed   bool
	closeErr sync.Once
}

var _ Monitor = (*RemoteMonitor)(nil)

// NewRemoteMonitor starts following the tracker through c.
func NewRemoteMonitor(ctx context.Context, c *client.Client, schedule completion.Scheduler) (*RemoteMonitor, error) {
	if schedule == nil {
		schedule = completion.Go
	}
	m := &RemoteMonitor{
		client:   c,
		schedule: schedule,
		subs:     make(map[uint64]func(Event)),
	}

	stop, err := c.Watch(m.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to watch mount tracker: %w", err)
	}
	m.stop = stop

	mounts, err := c.ListMounts(ctx)
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to list mounts: %w", err)
	}

	m.mu.Lock()
	// Mounts announced while listing are already in place; keep the tracker
	// order for the rest.
	for i := len(mounts) - 1; i >= 0; i-- {
		if m.indexLocked(mounts[i]) < 0 {
			m.volumes = append([]*RemoteVolume{m.newVolume(mounts[i])}, m.volumes...)
		}
	}
	m.mu.Unlock()

	logger.Debug("Remote volume monitor started with %d volume(s)", len(mounts))
	return m, nil
}

func (m *RemoteMonitor) newVolume(rec *vfs.MountRecord) *RemoteVolume {
	return &RemoteVolume{client: m.client, mount: rec, schedule: m.schedule}
}

func (m *RemoteMonitor) indexLocked(rec *vfs.MountRecord) int {
	for i, v := range m.volumes {
		if v.mount.SameKey(rec) {
			return i
		}
	}
	return -1
}

func (m *RemoteMonitor) handle(ev vfs.MountEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var out Event
	switch ev.Kind {
	case vfs.MountAdded:
		if m.indexLocked(ev.Mount) >= 0 {
			m.mu.Unlock()
			return
		}
		v := m.newVolume(ev.Mount)
		m.volumes = append([]*RemoteVolume{v}, m.volumes...)
		out = Event{Kind: VolumeAdded, Volume: v}
	case vfs.MountRemoved:
		i := m.indexLocked(ev.Mount)
		if i < 0 {
			m.mu.Unlock()
			return
		}
		v := m.volumes[i]
		m.volumes = append(m.volumes[:i], m.volumes[i+1:]...)
		out = Event{Kind: VolumeRemoved, Volume: v}
	default:
		m.mu.Unlock()
		return
	}
	subs := m.subscribersLocked()
	m.mu.Unlock()

	for _, fn := range subs {
		fn(out)
	}
}

func (m *RemoteMonitor) subscribersLocked() []func(Event) {
	out := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

// Volumes returns the current volumes, most recently mounted first.
func (m *RemoteMonitor) Volumes() []Volume {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Volume, 0, len(m.volumes))
	for _, v := range m.volumes {
		out = append(out, v)
	}
	return out
}

func (m *RemoteMonitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Close stops following the tracker. It does not close the client.
func (m *RemoteMonitor) Close() error {
	m.closeErr.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.stop()
	})
	return nil
}
