// Package memory provides an in-memory Backend, used by tests and for
// demo mounts declared directly in the configuration.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Backend is an in-memory directory tree.
//
// Thread safety:
// All methods are safe for concurrent use.
type Backend struct {
	mu   sync.RWMutex
	dirs map[string]map[string]*vfs.FileInfo // clean dir path -> name -> entry
}

var _ backend.Backend = (*Backend)(nil)

// New creates a tree containing only the root directory.
func New() *Backend {
	return &Backend{
		dirs: map[string]map[string]*vfs.FileInfo{"/": {}},
	}
}

// NewFromPaths builds a tree from a list of paths. Paths ending in "/" are
// directories, everything else is an empty regular file. Missing parents
// are created.
func NewFromPaths(paths []string) *Backend {
	b := New()
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			b.Mkdir(p)
		} else {
			b.Put(p, &vfs.FileInfo{Type: vfs.FileTypeRegular, Mode: 0o644})
		}
	}
	return b
}

func (b *Backend) Type() string {
	return "memory"
}

// Mkdir creates dir and its missing parents.
func (b *Backend) Mkdir(dir string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mkdirLocked(backend.CleanPath(dir))
}

func (b *Backend) mkdirLocked(dir string) {
	if _, ok := b.dirs[dir]; ok {
		return
	}
	parent, name := backend.SplitPath(dir)
	b.mkdirLocked(parent)
	b.dirs[dir] = make(map[string]*vfs.FileInfo)
	b.dirs[parent][name] = &vfs.FileInfo{
		Name:    name,
		Type:    vfs.FileTypeDirectory,
		Mode:    0o755,
		ModTime: time.Now(),
	}
}

// Put stores fi at p, creating missing parents. fi.Name is set from p.
// Putting a directory entry also creates the directory.
func (b *Backend) Put(p string, fi *vfs.FileInfo) {
	p = backend.CleanPath(p)
	parent, name := backend.SplitPath(p)
	if name == "" {
		return
	}

	entry := *fi
	entry.Name = name
	if entry.ModTime.IsZero() {
		entry.ModTime = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.mkdirLocked(parent)
	b.dirs[parent][name] = &entry
	if entry.Type == vfs.FileTypeDirectory {
		if _, ok := b.dirs[p]; !ok {
			b.dirs[p] = make(map[string]*vfs.FileInfo)
		}
	}
}

// Remove deletes p and, for directories, everything below it.
func (b *Backend) Remove(p string) {
	p = backend.CleanPath(p)
	parent, name := backend.SplitPath(p)
	if name == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if siblings, ok := b.dirs[parent]; ok {
		delete(siblings, name)
	}
	for dir := range b.dirs {
		if dir == p || strings.HasPrefix(dir, p+"/") {
			delete(b.dirs, dir)
		}
	}
}

// List returns copies of the entries of dir sorted by name.
func (b *Backend) List(ctx context.Context, dir string) ([]*vfs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = backend.CleanPath(dir)

	b.mu.RLock()
	defer b.mu.RUnlock()

	children, ok := b.dirs[dir]
	if !ok {
		parent, name := backend.SplitPath(dir)
		if siblings, ok := b.dirs[parent]; ok {
			if _, exists := siblings[name]; exists {
				return nil, vfs.NewError(vfs.CodeNotDirectory, "not a directory", dir)
			}
		}
		return nil, vfs.NewError(vfs.CodeNotFound, "no such file or directory", dir)
	}

	entries := make([]*vfs.FileInfo, 0, len(children))
	for _, fi := range children {
		c := *fi
		entries = append(entries, &c)
	}
	slices.SortFunc(entries, func(a, b *vfs.FileInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return entries, nil
}

func (b *Backend) Close() error {
	return nil
}
