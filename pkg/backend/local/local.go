// Package local serves a directory of the local filesystem as a Backend.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Config configures the local backend.
type Config struct {
	// Root is the directory served as "/".
	Root string `mapstructure:"root"`

	// ShowHidden includes dot files in listings.
	ShowHidden bool `mapstructure:"show_hidden"`
}

// Backend lists directories below a root directory. Listing paths are
// resolved inside the root; ".." cannot escape it.
type Backend struct {
	root       string
	showHidden bool
}

var _ backend.Backend = (*Backend)(nil)

// New creates a local backend. The root must exist and be a directory.
func New(config Config) (*Backend, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("local backend: root is required")
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("local backend: invalid root %q: %w", config.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local backend: failed to access root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local backend: root %q is not a directory", root)
	}

	return &Backend{root: root, showHidden: config.ShowHidden}, nil
}

func (b *Backend) Type() string {
	return "local"
}

// List reads dir below the root. Entries that vanish while being read are
// skipped.
func (b *Backend) List(ctx context.Context, dir string) ([]*vfs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = backend.CleanPath(dir)
	full := filepath.Join(b.root, filepath.FromSlash(dir))

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return nil, toVFSError(err, full, dir)
	}

	entries := make([]*vfs.FileInfo, 0, len(dirEntries))
	for i, de := range dirEntries {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !b.showHidden && de.Name()[0] == '.' {
			continue
		}

		info, err := de.Info()
		if err != nil {
			logger.Debug("local backend: skipping %s/%s: %v", dir, de.Name(), err)
			continue
		}
		fi := &vfs.FileInfo{
			Name:    de.Name(),
			Type:    fileType(info.Mode()),
			Size:    uint64(max(info.Size(), 0)),
			Mode:    uint32(info.Mode().Perm()),
			ModTime: info.ModTime(),
		}
		if fi.Type == vfs.FileTypeSymlink {
			if target, err := os.Readlink(filepath.Join(full, de.Name())); err == nil {
				fi.SymlinkTarget = target
			}
		}
		entries = append(entries, fi)
	}
	return entries, nil
}

func (b *Backend) Close() error {
	return nil
}

func fileType(mode fs.FileMode) vfs.FileType {
	switch {
	case mode.IsRegular():
		return vfs.FileTypeRegular
	case mode.IsDir():
		return vfs.FileTypeDirectory
	case mode&fs.ModeSymlink != 0:
		return vfs.FileTypeSymlink
	default:
		return vfs.FileTypeSpecial
	}
}

func toVFSError(err error, full, dir string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return vfs.NewError(vfs.CodeNotFound, "no such file or directory", dir)
	}
	if info, statErr := os.Stat(full); statErr == nil && !info.IsDir() {
		return vfs.NewError(vfs.CodeNotDirectory, "not a directory", dir)
	}
	return fmt.Errorf("failed to read directory %s: %w", dir, err)
}
