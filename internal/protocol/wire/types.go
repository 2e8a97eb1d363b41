package wire

// XDR payloads exchanged over the bus. Every bus message carries exactly one
// of these structs, encoded with Encode.

// Record is one opaque, independently decodable element of a batch. Keeping
// records separately framed lets a receiver skip a malformed entry without
// losing the rest of the batch.
type Record struct {
	Data []byte `xdr:"opaque"`
}

// FileInfoRecord is the encoded form of a directory entry.
type FileInfoRecord struct {
	Name          string
	Type          uint32
	Size          uint64
	Mode          uint32
	MtimeSec      int64
	MtimeNsec     uint32
	SymlinkTarget string
}

// GotInfo carries a batch of FileInfoRecord, each framed as a Record.
type GotInfo struct {
	Records []Record
}

// MountSpecItem is a key/value pair of a mount spec.
type MountSpecItem struct {
	Key   string
	Value string
}

// MountSpec is the encoded form of vfs.MountSpec.
type MountSpec struct {
	MountPrefix string
	Items       []MountSpecItem
}

// RegisterMountArgs is the body of registerMount. The spec is nested as
// opaque bytes so that a bad spec is told apart from bad arguments.
type RegisterMountArgs struct {
	DisplayName string
	Icon        string
	ObjectPath  string
	Spec        []byte `xdr:"opaque"`
}

// UnregisterMountArgs is the body of unregisterMount.
type UnregisterMountArgs struct {
	ObjectPath string
}

// LookupMountArgs is the body of lookupMount.
type LookupMountArgs struct {
	Spec []byte `xdr:"opaque"`
}

// MountRecord is the reply to lookupMount and the body of the mounted and
// unmounted signals.
type MountRecord struct {
	DisplayName string
	Icon        string
	OwnerID     string
	ObjectPath  string
	Spec        MountSpec
}

// MountList is the reply to listMounts.
type MountList struct {
	Mounts []MountRecord
}

// EnumerateArgs is the body of Mount.Enumerate. Entries are streamed to
// EnumeratorPath on the caller's connection.
type EnumerateArgs struct {
	Path           string
	EnumeratorPath string
}
