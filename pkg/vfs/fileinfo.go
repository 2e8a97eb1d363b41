package vfs

import (
	"fmt"
	"time"
)

// FileType identifies the kind of a directory entry.
type FileType uint32

const (
	FileTypeUnknown FileType = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeSymlink
	FileTypeSpecial
	FileTypeShortcut
	FileTypeMountable
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	case FileTypeSpecial:
		return "special"
	case FileTypeShortcut:
		return "shortcut"
	case FileTypeMountable:
		return "mountable"
	default:
		return "unknown"
	}
}

// FileInfo is one directory entry as produced by a backend and streamed to
// an enumerator. The enumerator never interprets it beyond keeping it in
// arrival order.
type FileInfo struct {
	Name          string
	Type          FileType
	Size          uint64
	Mode          uint32
	ModTime       time.Time
	SymlinkTarget string
}

// IsDir reports whether the entry is a directory.
func (fi *FileInfo) IsDir() bool {
	return fi.Type == FileTypeDirectory
}

func (fi *FileInfo) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", fi.Name, fi.Type, fi.Size)
}
