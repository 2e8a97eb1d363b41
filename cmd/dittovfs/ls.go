package main

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/marmos91/dittovfs/pkg/client"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"golang.org/x/sync/errgroup"
)

type lsCommand struct {
	Sync      bool `short:"s" long:"sync" description:"Use a synchronous listing on a private connection"`
	Recursive bool `short:"r" long:"recursive" description:"List subdirectories too"`
	Jobs      int  `short:"j" long:"jobs" default:"4" description:"Concurrent listings when recursive"`
	Batch     int  `long:"batch" default:"64" description:"Entries requested per asynchronous call"`

	Args struct {
		Spec string `positional-arg-name:"SPEC" required:"true"`
		Path string `positional-arg-name:"PATH"`
	} `positional-args:"yes"`
}

func (c *lsCommand) Execute([]string) error {
	spec, err := vfs.ParseMountSpec(c.Args.Spec)
	if err != nil {
		return err
	}
	dir := c.Args.Path
	if dir == "" {
		dir = "/"
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	mount, err := s.client.LookupMount(ctx, spec)
	if err != nil {
		return err
	}

	l := &lister{client: s.client, mount: mount, sync: c.Sync, batch: c.Batch}
	if !c.Recursive {
		entries, err := l.list(ctx, dir)
		if err != nil {
			return err
		}
		for _, fi := range entries {
			printEntry(dir, fi)
		}
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if c.Jobs > 0 {
		g.SetLimit(c.Jobs)
	}

	var walk func(dir string)
	walk = func(dir string) {
		g.Go(func() error {
			entries, err := l.list(gctx, dir)
			if err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			mu.Lock()
			for _, fi := range entries {
				printEntry(dir, fi)
			}
			mu.Unlock()
			for _, fi := range entries {
				if fi.IsDir() {
					walk(path.Join(dir, fi.Name))
				}
			}
			return nil
		})
	}
	walk(dir)
	return g.Wait()
}

func printEntry(dir string, fi *vfs.FileInfo) {
	name := path.Join(dir, fi.Name)
	if fi.IsDir() {
		name += "/"
	}
	fmt.Printf("%-9s %10d  %s\n", fi.Type, fi.Size, name)
}

// lister reads whole directories from one mount.
type lister struct {
	client *client.Client
	mount  *vfs.MountRecord
	sync   bool
	batch  int
}

func (l *lister) list(ctx context.Context, dir string) ([]*vfs.FileInfo, error) {
	if l.sync {
		return l.listSync(ctx, dir)
	}
	return l.listAsync(ctx, dir)
}

func (l *lister) listSync(ctx context.Context, dir string) ([]*vfs.FileInfo, error) {
	listing, err := l.client.EnumerateSync(ctx, l.mount, dir)
	if err != nil {
		return nil, err
	}
	defer listing.Close()

	var entries []*vfs.FileInfo
	for {
		fi, err := listing.NextFile()
		if err != nil {
			return nil, err
		}
		if fi == nil {
			return entries, nil
		}
		entries = append(entries, fi)
	}
}

// listAsync requests batches until one comes back empty: the listing ended
// or nothing arrived before the deadline.
func (l *lister) listAsync(ctx context.Context, dir string) ([]*vfs.FileInfo, error) {
	e, err := l.client.Enumerate(ctx, l.mount, dir)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	batch := l.batch
	if batch <= 0 {
		batch = 64
	}

	var entries []*vfs.FileInfo
	for {
		files, err := e.NextFiles(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return entries, nil
		}
		entries = append(entries, files...)
	}
}
