// Package backend defines the storage side of a mount and the bus object
// that serves it.
//
// A Backend answers directory listings. A Mount exports a Backend on the bus
// under the io.dittovfs.Mount interface: Enumerate lists a directory and
// streams the entries to the caller's enumerator as GotInfo batches
// followed by Done; Unmount asks the owner to withdraw the mount.
package backend

import (
	"context"
	"path"
	"strings"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Backend lists directories of one storage location.
//
// Implementations must be safe for concurrent use: a Mount serves each
// Enumerate call on the bus dispatch goroutine of its connection, and a
// daemon may share a Backend between mounts.
type Backend interface {
	// Type returns the backend type name ("memory", "local", "s3", "badger").
	Type() string

	// List returns the entries of dir. dir is an absolute, slash-separated
	// path inside the backend.
	//
	// Returns a CodeNotFound error if dir does not exist and a
	// CodeNotDirectory error if it names something other than a directory.
	List(ctx context.Context, dir string) ([]*vfs.FileInfo, error)

	// Close releases the backend's resources.
	Close() error
}

// CleanPath normalizes a listing path: absolute, no "." or ".." elements,
// no trailing slash except for the root.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// SplitPath returns the parent directory and base name of a clean path.
// The root splits into ("/", "").
func SplitPath(p string) (dir, name string) {
	p = CleanPath(p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}
