package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

type mountsCommand struct{}

func (c *mountsCommand) Execute([]string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	mounts, err := s.client.ListMounts(ctx)
	if err != nil {
		return err
	}
	if len(mounts) == 0 {
		fmt.Println("No mounts")
		return nil
	}

	printMounts(mounts)
	return nil
}

func printMounts(mounts []*vfs.MountRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOWNER\tOBJECT PATH\tSPEC")
	for _, m := range mounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.DisplayName, m.OwnerID, m.ObjectPath, m.Spec)
	}
	_ = w.Flush()
}

type lookupCommand struct {
	Args struct {
		Spec string `positional-arg-name:"SPEC" required:"true"`
	} `positional-args:"yes"`
}

func (c *lookupCommand) Execute([]string) error {
	spec, err := vfs.ParseMountSpec(c.Args.Spec)
	if err != nil {
		return err
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
	printMounts([]*vfs.MountRecord{mount})
	return nil
}

type unmountCommand struct {
	Args struct {
		Spec string `positional-arg-name:"SPEC" required:"true"`
	} `positional-args:"yes"`
}

func (c *unmountCommand) Execute([]string) error {
	spec, err := vfs.ParseMountSpec(c.Args.Spec)
	if err != nil {
		return err
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
	if err := s.client.Unmount(ctx, mount); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mount.DisplayName, err)
	}
	fmt.Printf("Unmounted %s\n", mount.DisplayName)
	return nil
}
