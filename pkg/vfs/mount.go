package vfs

import "fmt"

// MountRecord is one live mount as tracked by the registry.
//
// The pair (OwnerID, ObjectPath) identifies the record: OwnerID is the bus
// identity of the backend process that registered it and ObjectPath is the
// address of the mount object inside that process.
type MountRecord struct {
	DisplayName string
	Icon        string
	OwnerID     string
	ObjectPath  string
	Spec        *MountSpec
}

// SameKey reports whether r and other identify the same mount.
func (r *MountRecord) SameKey(other *MountRecord) bool {
	return r.OwnerID == other.OwnerID && r.ObjectPath == other.ObjectPath
}

func (r *MountRecord) String() string {
	return fmt.Sprintf("%s (%s%s) [%s]", r.DisplayName, r.OwnerID, r.ObjectPath, r.Spec)
}

// MountEventKind tells a mount being added from one being removed.
type MountEventKind int

const (
	MountAdded MountEventKind = iota
	MountRemoved
)

func (k MountEventKind) String() string {
	if k == MountRemoved {
		return "unmounted"
	}
	return "mounted"
}

// MountEvent is a tracker lifecycle notification as seen by watchers.
type MountEvent struct {
	Kind  MountEventKind
	Mount *MountRecord
}
