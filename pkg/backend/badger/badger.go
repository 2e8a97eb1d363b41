// Package badger serves a directory snapshot stored in BadgerDB.
//
// The snapshot is a flat key space: every entry lives under a key made of
// its parent directory and its name, so a directory listing is a single
// prefix scan. Entries are stored in the same XDR record format used on the
// bus.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Key schema:
//
//	e:<dir>\x00<name>  -> FileInfoRecord of <name> inside <dir>
//	d:<dir>            -> empty, marks <dir> as an existing directory
const (
	prefixEntry = "e:"
	prefixDir   = "d:"
	separator   = 0x00
)

func keyEntry(dir, name string) []byte {
	return append(keyEntryPrefix(dir), name...)
}

func keyEntryPrefix(dir string) []byte {
	k := make([]byte, 0, len(prefixEntry)+len(dir)+1)
	k = append(k, prefixEntry...)
	k = append(k, dir...)
	return append(k, separator)
}

func keyDir(dir string) []byte {
	return []byte(prefixDir + dir)
}

// Config configures the badger backend.
type Config struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory only.
	InMemory bool `mapstructure:"in_memory"`

	// ReadOnly opens an existing snapshot without write access.
	ReadOnly bool `mapstructure:"read_only"`
}

// Backend lists directories from a BadgerDB snapshot.
//
// Thread safety:
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Backend struct {
	db *badger.DB
}

var _ backend.Backend = (*Backend)(nil)

// New opens (or creates) the snapshot database.
func New(ctx context.Context, config Config) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.DBPath == "" {
			return nil, fmt.Errorf("badger backend: db_path is required")
		}
		opts = badger.DefaultOptions(config.DBPath)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithReadOnly(config.ReadOnly)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	b := &Backend{db: db}
	if !config.ReadOnly {
		if err := b.db.Update(func(txn *badger.Txn) error {
			return txn.Set(keyDir("/"), nil)
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize snapshot root: %w", err)
		}
	}
	return b, nil
}

func (b *Backend) Type() string {
	return "badger"
}

// Put stores fi at p. Missing parent directories are created; putting a
// directory entry marks it as listable.
func (b *Backend) Put(ctx context.Context, p string, fi *vfs.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = backend.CleanPath(p)
	if p == "/" {
		return vfs.NewError(vfs.CodeInvalidArgument, "cannot replace the root directory", p)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.mkdirAllTxn(txn, p, fi.Type == vfs.FileTypeDirectory); err != nil {
			return err
		}
		dir, name := backend.SplitPath(p)
		entry := *fi
		entry.Name = name
		return txn.Set(keyEntry(dir, name), wire.MustEncode(wire.FileInfoToRecord(&entry)))
	})
}

// mkdirAllTxn creates the parents of p, and p itself when isDir is set.
func (b *Backend) mkdirAllTxn(txn *badger.Txn, p string, isDir bool) error {
	var chain []string
	if isDir {
		chain = append(chain, p)
	}
	for dir, _ := backend.SplitPath(p); dir != "/"; dir, _ = backend.SplitPath(dir) {
		chain = append(chain, dir)
	}

	for _, dir := range chain {
		if err := txn.Set(keyDir(dir), nil); err != nil {
			return err
		}
		if dir == p {
			continue
		}
		parent, name := backend.SplitPath(dir)
		if _, err := txn.Get(keyEntry(parent, name)); errors.Is(err, badger.ErrKeyNotFound) {
			rec := wire.FileInfoToRecord(&vfs.FileInfo{Name: name, Type: vfs.FileTypeDirectory, Mode: 0o755})
			if err := txn.Set(keyEntry(parent, name), wire.MustEncode(rec)); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}
	return nil
}

// Import copies a whole tree from another backend, starting at root.
// It returns the number of entries stored.
func (b *Backend) Import(ctx context.Context, src backend.Backend, root string) (int, error) {
	root = backend.CleanPath(root)
	count := 0

	var walk func(dir, dst string) error
	walk = func(dir, dst string) error {
		entries, err := src.List(ctx, dir)
		if err != nil {
			return err
		}
		for _, fi := range entries {
			srcPath := backend.CleanPath(dir + "/" + fi.Name)
			dstPath := backend.CleanPath(dst + "/" + fi.Name)
			if err := b.Put(ctx, dstPath, fi); err != nil {
				return err
			}
			count++
			if fi.IsDir() {
				if err := walk(srcPath, dstPath); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, "/"); err != nil {
		return count, fmt.Errorf("failed to import %s from %s backend: %w", root, src.Type(), err)
	}
	logger.Info("badger backend: imported %d entries from %s backend", count, src.Type())
	return count, nil
}

// List scans the entries of dir. Stored records that fail to decode are
// skipped.
func (b *Backend) List(ctx context.Context, dir string) ([]*vfs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = backend.CleanPath(dir)

	var entries []*vfs.FileInfo
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyDir(dir)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return b.missingTxn(txn, dir)
			}
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = keyEntryPrefix(dir)

		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if n%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++

			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec wire.FileInfoRecord
				if err := wire.Decode(val, &rec); err != nil {
					return err
				}
				entries = append(entries, wire.RecordToFileInfo(&rec))
				return nil
			})
			if err != nil {
				logger.Warn("badger backend: skipping corrupt entry %q: %v", item.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *Backend) missingTxn(txn *badger.Txn, dir string) error {
	parent, name := backend.SplitPath(dir)
	if _, err := txn.Get(keyEntry(parent, name)); err == nil {
		return vfs.NewError(vfs.CodeNotDirectory, "not a directory", dir)
	}
	return vfs.NewError(vfs.CodeNotFound, "no such file or directory", dir)
}

func (b *Backend) Close() error {
	return b.db.Close()
}
