package main

import (
	"fmt"

	"github.com/marmos91/dittovfs/pkg/config"
)

type configInitCommand struct {
	Force bool   `short:"f" long:"force" description:"Overwrite an existing file"`
	Path  string `short:"p" long:"path" description:"Write to this path instead of the default location"`
}

func (c *configInitCommand) Execute([]string) error {
	path := c.Path
	if path == "" {
		p, err := config.InitConfig(c.Force)
		if err != nil {
			return err
		}
		path = p
	} else if err := config.InitConfigToPath(path, c.Force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
