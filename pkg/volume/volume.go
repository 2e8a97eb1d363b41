// Package volume presents mounts as user-facing volumes.
//
// A Volume is something a user can see and unmount; a Drive groups the
// volumes of one physical or logical device. Monitors report volumes as they
// come and go: RemoteMonitor follows the mount tracker, and UnionMonitor
// merges several monitors so that the same volume reported twice (same
// platform id) shows up once, as a Union.
package volume

import (
	"context"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Callback receives the outcome of an asynchronous volume operation. It is
// never invoked from within the call that started the operation.
type Callback func(err error)

// Volume is a mountable or mounted location.
type Volume interface {
	// PlatformID identifies the underlying device across monitors. Empty
	// when the volume has no such identity.
	PlatformID() string
	Name() string
	Icon() string

	// Root is the mount backing the volume, or nil when not mounted.
	Root() *vfs.MountRecord

	// Drive is the drive holding the volume, or nil.
	Drive() Drive

	CanUnmount() bool
	CanEject() bool
	Unmount(ctx context.Context, cb Callback)
	Eject(ctx context.Context, cb Callback)
}

// Drive groups the volumes of one device.
type Drive interface {
	Name() string
	Icon() string
	Volumes() []Volume
	IsAutomounted() bool
	CanMount() bool
	CanEject() bool
	Mount(ctx context.Context, cb Callback)
	Eject(ctx context.Context, cb Callback)
}

// EventKind tells the kind of a monitor event.
type EventKind int

const (
	VolumeAdded EventKind = iota
	VolumeRemoved
	VolumeChanged
)

func (k EventKind) String() string {
	switch k {
	case VolumeAdded:
		return "added"
	case VolumeRemoved:
		return "removed"
	case VolumeChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Event is a volume lifecycle notification.
type Event struct {
	Kind   EventKind
	Volume Volume
}

// Monitor reports the current volumes and their changes.
type Monitor interface {
	// Volumes returns a snapshot of the known volumes.
	Volumes() []Volume

	// Subscribe delivers events to fn until the returned function is called.
	Subscribe(fn func(Event)) func()

	Close() error
}

func notSupported(op string) error {
	return vfs.NewError(vfs.CodeNotSupported, "Operation not supported: "+op, "")
}
