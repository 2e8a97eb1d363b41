package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Listener receives mount lifecycle events.
//
// Listeners are invoked while the registry lock is held so that events are
// observed in the same order the collection changed. They must not call
// back into the registry.
type Listener interface {
	Mounted(rec *vfs.MountRecord)
	Unmounted(rec *vfs.MountRecord)
}

// Registry tracks the live mounts of all backend processes on the bus.
// It provides thread-safe registration, lookup and revocation of mounts.
//
// Mounts are kept most-recent-first. The order is observable through
// ListMounts and decides which record wins in LookupMount when several
// specs match. A mount disappears only through UnregisterMount or when its
// owner leaves the bus (OnOwnerLost). Nothing is persisted: after a restart
// backends register again.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.Subscribe(signalEmitter)
//	reg.RegisterMount(":1.42", "Photos", "folder-remote", "/io/dittovfs/mount/photos", specWire)
//
//	rec, err := reg.LookupMount(specWire)
//	reg.OnOwnerLost(":1.42")
type Registry struct {
	mu        sync.RWMutex
	mounts    []*vfs.MountRecord // most recent first
	listeners []subscriber // registration order
	nextID    uint64
	metrics   metrics.TrackerMetrics
}

type subscriber struct {
	id uint64
	l  Listener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: metrics.NewNoopTrackerMetrics(),
	}
}

// SetMetrics replaces the metrics sink. A nil value restores the no-op sink.
func (r *Registry) SetMetrics(m metrics.TrackerMetrics) {
	if m == nil {
		m = metrics.NewNoopTrackerMetrics()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	r.metrics.SetActiveMounts(len(r.mounts))
}

// Subscribe adds a listener for mounted/unmounted events. Listeners are
// called in the order they subscribed. The returned function removes it.
func (r *Registry) Subscribe(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, subscriber{id: id, l: l})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.listeners = slices.DeleteFunc(r.listeners, func(s subscriber) bool { return s.id == id })
	}
}

// RegisterMount adds a mount owned by owner. specWire is the encoded mount
// spec as received from the bus.
//
// Returns an error if:
//   - (owner, objectPath) is already registered (CodeAlreadyRegistered)
//   - specWire does not decode to a valid spec (CodeInvalidSpec)
func (r *Registry) RegisterMount(owner, displayName, icon, objectPath string, specWire []byte) (*vfs.MountRecord, error) {
	spec, err := wire.DecodeSpec(specWire)
	if err != nil {
		return nil, vfs.NewError(vfs.CodeInvalidSpec, fmt.Sprintf("invalid mount spec: %v", err), objectPath)
	}

	rec := &vfs.MountRecord{
		DisplayName: displayName,
		Icon:        icon,
		OwnerID:     owner,
		ObjectPath:  objectPath,
		Spec:        spec,
	}
	if err := r.Register(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Register adds an already decoded record. The registry takes ownership of
// rec; callers must not modify it afterwards.
func (r *Registry) Register(rec *vfs.MountRecord) error {
	if rec == nil || rec.Spec == nil {
		return vfs.NewError(vfs.CodeInvalidSpec, "mount record has no spec", "")
	}
	if err := rec.Spec.Validate(); err != nil {
		return vfs.NewError(vfs.CodeInvalidSpec, err.Error(), rec.ObjectPath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.ContainsFunc(r.mounts, rec.SameKey) {
		return vfs.NewError(vfs.CodeAlreadyRegistered,
			fmt.Sprintf("mount %s already registered by %s", rec.ObjectPath, rec.OwnerID), rec.ObjectPath)
	}

	r.mounts = slices.Insert(r.mounts, 0, rec)
	r.metrics.SetActiveMounts(len(r.mounts))
	logger.Info("Mount registered: %s", rec)

	for _, s := range r.listeners {
		s.l.Mounted(rec)
	}
	return nil
}

// UnregisterMount removes the mount (owner, objectPath) and returns it.
// Returns a CodeNotMounted error if no such mount exists.
func (r *Registry) UnregisterMount(owner, objectPath string) (*vfs.MountRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.mounts, func(m *vfs.MountRecord) bool {
		return m.OwnerID == owner && m.ObjectPath == objectPath
	})
	if idx < 0 {
		return nil, vfs.NewError(vfs.CodeNotMounted, "mountpoint not registered", objectPath)
	}

	rec := r.mounts[idx]
	r.mounts = slices.Delete(r.mounts, idx, idx+1)
	r.metrics.SetActiveMounts(len(r.mounts))
	logger.Info("Mount unregistered: %s", rec)

	for _, s := range r.listeners {
		s.l.Unmounted(rec)
	}
	return rec, nil
}

// LookupMount decodes specWire and returns the most recently registered
// mount whose spec matches it.
func (r *Registry) LookupMount(specWire []byte) (*vfs.MountRecord, error) {
	spec, err := wire.DecodeSpec(specWire)
	if err != nil {
		return nil, vfs.NewError(vfs.CodeInvalidSpec, fmt.Sprintf("invalid mount spec: %v", err), "")
	}
	return r.Lookup(spec)
}

// Lookup returns the first record, front to back, whose spec matches spec.
// Returns a CodeNotMounted error when nothing matches.
func (r *Registry) Lookup(spec *vfs.MountSpec) (*vfs.MountRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mounts {
		if m.Spec.Match(spec) {
			return m, nil
		}
	}
	return nil, vfs.NewError(vfs.CodeNotMounted, "location is not mounted", spec.String())
}

// ListMounts returns a snapshot of all mounts, most recent first.
func (r *Registry) ListMounts() []*vfs.MountRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.mounts)
}

// CountMounts returns the number of registered mounts.
func (r *Registry) CountMounts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}

// OnOwnerLost removes every mount owned by owner, in collection order, and
// emits one Unmounted event per removed record. It returns the number of
// records removed; repeated calls for an owner with no mounts do nothing.
func (r *Registry) OnOwnerLost(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.mounts[:0]
	var removed []*vfs.MountRecord
	for _, m := range r.mounts {
		if m.OwnerID == owner {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, m)
	}
	if len(removed) == 0 {
		return 0
	}
	clear(r.mounts[len(kept):])
	r.mounts = kept

	r.metrics.SetActiveMounts(len(r.mounts))
	r.metrics.RecordEviction(len(removed))

	for _, rec := range removed {
		logger.Info("Mount revoked, owner %s left the bus: %s", owner, rec)
		for _, s := range r.listeners {
			s.l.Unmounted(rec)
		}
	}
	return len(removed)
}
