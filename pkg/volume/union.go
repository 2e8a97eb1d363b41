package volume

import (
	"context"
	"sync"

	"github.com/marmos91/dittovfs/pkg/completion"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

type child struct {
	volume  Volume
	monitor Monitor
}

// Union is a volume reported by several monitors. Every query and operation
// is forwarded to the most recently added child. A union without children
// answers queries with zero values and fails operations with NotSupported.
//
// Thread safety:
// All methods are safe for concurrent use.
type Union struct {
	schedule completion.Scheduler

	mu       sync.RWMutex
	children []child // most recent first
	watchers map[uint64]func()
	nextID   uint64
}

var _ Volume = (*Union)(nil)

// NewUnion creates a union holding one child reported by monitor.
// A nil schedule defaults to completion.Go.
func NewUnion(v Volume, monitor Monitor, schedule completion.Scheduler) *Union {
	if schedule == nil {
		schedule = completion.Go
	}
	return &Union{
		schedule: schedule,
		children: []child{{volume: v, monitor: monitor}},
		watchers: make(map[uint64]func()),
	}
}

// AddVolume adds a child in front of the others and notifies watchers.
func (u *Union) AddVolume(v Volume, monitor Monitor) {
	u.mu.Lock()
	u.children = append([]child{{volume: v, monitor: monitor}}, u.children...)
	watchers := u.watchersLocked()
	u.mu.Unlock()

	notify(watchers)
}

// RemoveVolume removes a child and reports whether the union is now empty.
// Removing a volume that is not a child returns false.
func (u *Union) RemoveVolume(v Volume) bool {
	u.mu.Lock()
	idx := -1
	for i, c := range u.children {
		if c.volume == v {
			idx = i
			break
		}
	}
	if idx < 0 {
		u.mu.Unlock()
		return false
	}
	u.children = append(u.children[:idx], u.children[idx+1:]...)
	empty := len(u.children) == 0
	watchers := u.watchersLocked()
	u.mu.Unlock()

	notify(watchers)
	return empty
}

// ChildForMonitor returns the child reported by monitor, or nil.
func (u *Union) ChildForMonitor(monitor Monitor) Volume {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, c := range u.children {
		if c.monitor == monitor {
			return c.volume
		}
	}
	return nil
}

// HasChild reports whether v is one of the union's children.
func (u *Union) HasChild(v Volume) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, c := range u.children {
		if c.volume == v {
			return true
		}
	}
	return false
}

// Len returns the number of children.
func (u *Union) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.children)
}

// OnChanged calls fn whenever a child is added or removed, until the
// returned function is called.
func (u *Union) OnChanged(fn func()) func() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	id := u.nextID
	u.watchers[id] = fn
	return func() {
		u.mu.Lock()
		delete(u.watchers, id)
		u.mu.Unlock()
	}
}

func (u *Union) watchersLocked() []func() {
	out := make([]func(), 0, len(u.watchers))
	for _, fn := range u.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func()) {
	for _, fn := range watchers {
		fn()
	}
}

func (u *Union) first() Volume {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if len(u.children) == 0 {
		return nil
	}
	return u.children[0].volume
}

func (u *Union) PlatformID() string {
	if v := u.first(); v != nil {
		return v.PlatformID()
	}
	return ""
}

func (u *Union) Name() string {
	if v := u.first(); v != nil {
		return v.Name()
	}
	return "volume"
}

func (u *Union) Icon() string {
	if v := u.first(); v != nil {
		return v.Icon()
	}
	return ""
}

func (u *Union) Root() *vfs.MountRecord {
	if v := u.first(); v != nil {
		return v.Root()
	}
	return nil
}

func (u *Union) Drive() Drive {
	if v := u.first(); v != nil {
		return v.Drive()
	}
	return nil
}

func (u *Union) CanUnmount() bool {
	if v := u.first(); v != nil {
		return v.CanUnmount()
	}
	return false
}

func (u *Union) CanEject() bool {
	if v := u.first(); v != nil {
		return v.CanEject()
	}
	return false
}

func (u *Union) Unmount(ctx context.Context, cb Callback) {
	if v := u.first(); v != nil {
		v.Unmount(ctx, cb)
		return
	}
	u.errorDeferred(cb, "unmount")
}

func (u *Union) Eject(ctx context.Context, cb Callback) {
	if v := u.first(); v != nil {
		v.Eject(ctx, cb)
		return
	}
	u.errorDeferred(cb, "eject")
}

// errorDeferred reports NotSupported to cb from the scheduler, never
// inline.
func (u *Union) errorDeferred(cb Callback, op string) {
	if cb == nil {
		return
	}
	err := notSupported(op)
	u.schedule(func() { cb(err) })
}
