// Command dittovfs is the client of the DittoVFS mount daemon: it lists and
// looks up mounts, browses their contents, follows volume changes and
// manages the configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/client"
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/marmos91/dittovfs/pkg/enumerator"
	"github.com/marmos91/dittovfs/pkg/metrics"
)

// globalOptions are shared by every command.
type globalOptions struct {
	Config   string `short:"c" long:"config" description:"Path to the configuration file"`
	Bus      string `short:"b" long:"bus" description:"Override bus.type (session, system, address)"`
	LogLevel string `short:"l" long:"log-level" description:"Override logging.level (DEBUG, INFO, WARN, ERROR)"`
}

var global globalOptions

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.Name = "dittovfs"

	mustAddCommand(parser, "mounts", "List mounts", "List the mounts known to the mount tracker.", &mountsCommand{})
	mustAddCommand(parser, "lookup", "Look up a mount", "Find the mount serving a mount spec such as \"type=s3,bucket=photos:/2024\".", &lookupCommand{})
	mustAddCommand(parser, "ls", "List a directory", "List a directory of the mount serving a mount spec.", &lsCommand{})
	mustAddCommand(parser, "monitor", "Follow volumes", "Print volumes as they are mounted and unmounted.", &monitorCommand{})
	mustAddCommand(parser, "unmount", "Unmount a mount", "Ask the backend serving a mount spec to unmount it.", &unmountCommand{})

	cfgCmd, err := parser.AddCommand("config", "Manage configuration", "Manage the configuration file.", &struct{}{})
	if err != nil {
		panic(err)
	}
	if _, err := cfgCmd.AddCommand("init", "Write a default configuration", "Write a default configuration file.", &configInitCommand{}); err != nil {
		panic(err)
	}

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) {
			if ferr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			// go-flags already printed parse errors
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func mustAddCommand(p *flags.Parser, name, short, long string, data any) {
	if _, err := p.AddCommand(name, short, long, data); err != nil {
		panic(err)
	}
}

// session is the state shared by commands talking to the bus.
type session struct {
	cfg    *config.Config
	bus    *config.BusResult
	client *client.Client
}

func (s *session) Close() error {
	return s.bus.Conn.Close()
}

// openSession loads the configuration, applies the global overrides and
// connects a client to the bus.
func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	b, err := config.CreateBus(&cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}
	if b.Hub != nil {
		logger.Warn("bus.type is memory: only mounts of this process are visible")
	}

	c := client.New(b.Conn, client.Options{
		TrackerName: cfg.Tracker.BusName,
		TrackerPath: cfg.Tracker.ObjectPath,
		Enumerator: enumerator.Options{
			Timeout:      cfg.Enumerator.Timeout,
			PollInterval: cfg.Enumerator.PollInterval,
			Metrics:      metrics.NewNoopEnumeratorMetrics(),
		},
		DialPrivate: b.DialPrivate,
	})
	return &session{cfg: cfg, bus: b, client: c}, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(global.Config)
	if err != nil {
		return nil, err
	}
	if global.LogLevel != "" {
		cfg.Logging.Level = strings.ToUpper(global.LogLevel)
	}
	if global.Bus != "" {
		cfg.Bus.Type = strings.ToLower(global.Bus)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	// Command output goes to stdout
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
