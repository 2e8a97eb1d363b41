package volume

import (
	"sync"

	"github.com/marmos91/dittovfs/pkg/completion"
)

// UnionMonitor merges the volumes of several monitors. Volumes sharing a
// non-empty platform id are presented as one Union; every other volume gets
// a Union of its own.
type UnionMonitor struct {
	schedule completion.Scheduler
	unsubs   []func()

	mu      sync.Mutex
	unions  []*Union
	subs    map[uint64]func(Event)
	nextSub uint64
}

var _ Monitor = (*UnionMonitor)(nil)

// NewUnionMonitor merges monitors. Their current volumes are adopted in
// order, then their events are followed.
func NewUnionMonitor(schedule completion.Scheduler, monitors ...Monitor) *UnionMonitor {
	if schedule == nil {
		schedule = completion.Go
	}
	um := &UnionMonitor{
		schedule: schedule,
		subs:     make(map[uint64]func(Event)),
	}

	for _, m := range monitors {
		mon := m
		um.unsubs = append(um.unsubs, mon.Subscribe(func(ev Event) { um.handle(mon, ev) }))
		for _, v := range mon.Volumes() {
			um.add(mon, v)
		}
	}
	return um
}

func (um *UnionMonitor) handle(m Monitor, ev Event) {
	switch ev.Kind {
	case VolumeAdded:
		um.add(m, ev.Volume)
	case VolumeRemoved:
		um.remove(ev.Volume)
	case VolumeChanged:
		um.changed(ev.Volume)
	}
}

func (um *UnionMonitor) add(m Monitor, v Volume) {
	um.mu.Lock()
	if u := um.findLocked(v); u != nil {
		um.mu.Unlock()
		return
	}
	if id := v.PlatformID(); id != "" {
		for _, u := range um.unions {
			if u.PlatformID() == id {
				um.mu.Unlock()
				u.AddVolume(v, m)
				um.emit(Event{Kind: VolumeChanged, Volume: u})
				return
			}
		}
	}
	u := NewUnion(v, m, um.schedule)
	um.unions = append(um.unions, u)
	um.mu.Unlock()

	um.emit(Event{Kind: VolumeAdded, Volume: u})
}

func (um *UnionMonitor) remove(v Volume) {
	um.mu.Lock()
	u := um.findLocked(v)
	if u == nil {
		um.mu.Unlock()
		return
	}
	empty := u.RemoveVolume(v)
	if empty {
		for i, x := range um.unions {
			if x == u {
				um.unions = append(um.unions[:i], um.unions[i+1:]...)
				break
			}
		}
	}
	um.mu.Unlock()

	if empty {
		um.emit(Event{Kind: VolumeRemoved, Volume: u})
	} else {
		um.emit(Event{Kind: VolumeChanged, Volume: u})
	}
}

func (um *UnionMonitor) changed(v Volume) {
	um.mu.Lock()
	u := um.findLocked(v)
	um.mu.Unlock()
	if u != nil {
		um.emit(Event{Kind: VolumeChanged, Volume: u})
	}
}

func (um *UnionMonitor) findLocked(v Volume) *Union {
	for _, u := range um.unions {
		if u.HasChild(v) {
			return u
		}
	}
	return nil
}

func (um *UnionMonitor) emit(ev Event) {
	um.mu.Lock()
	subs := make([]func(Event), 0, len(um.subs))
	for _, fn := range um.subs {
		subs = append(subs, fn)
	}
	um.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Volumes returns the merged volumes in order of first appearance.
func (um *UnionMonitor) Volumes() []Volume {
	um.mu.Lock()
	defer um.mu.Unlock()
	out := make([]Volume, 0, len(um.unions))
	for _, u := range um.unions {
		out = append(out, u)
	}
	return out
}

func (um *UnionMonitor) Subscribe(fn func(Event)) func() {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.nextSub++
	id := um.nextSub
	um.subs[id] = fn
	return func() {
		um.mu.Lock()
		delete(um.subs, id)
		um.mu.Unlock()
	}
}

// Close stops following the child monitors. The children stay open.
func (um *UnionMonitor) Close() error {
	um.mu.Lock()
	unsubs := um.unsubs
	um.unsubs = nil
	um.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	return nil
}
