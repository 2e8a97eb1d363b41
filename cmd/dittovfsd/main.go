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
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/marmos91/dittovfs/pkg/server"
	"golang.org/x/sync/errgroup"
)

type options struct {
	Config   string `short:"c" long:"config" description:"Path to the configuration file (default: $XDG_CONFIG_HOME/dittovfs/config.yaml)"`
	LogLevel string `short:"l" long:"log-level" description:"Override logging.level (DEBUG, INFO, WARN, ERROR)"`
	Bus      string `short:"b" long:"bus" description:"Override bus.type (memory, session, system, address)"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = strings.ToUpper(opts.LogLevel)
	}
	if opts.Bus != "" {
		cfg.Bus.Type = strings.ToLower(opts.Bus)
	}

	// Configure logger
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to set log output: %w", err)
	}

	fmt.Println("DittoVFS - Virtual filesystem mount daemon")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Bus: %s", cfg.Bus.Type)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	busRes, err := config.CreateBus(&cfg.Bus)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busRes.Conn.Close()

	regRes, err := config.InitializeRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := regRes.Close(); err != nil {
			logger.Warn("Error closing event fan-out: %v", err)
		}
	}()

	adapters, err := config.CreateAdapters(ctx, cfg, busRes, m)
	if err != nil {
		return fmt.Errorf("failed to create adapters: %w", err)
	}

	srv := server.New(regRes.Registry, cfg.Server.ShutdownTimeout)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	if m.Server != nil {
		reg := regRes.Registry
		m.Server.AddHealthCheck("registry", func() (string, error) {
			return fmt.Sprintf("%d mounts", reg.CountMounts()), nil
		})
	}

	logger.Info("Serving %d backend(s). Press Ctrl+C to stop.", len(cfg.Backends))

	g, gctx := errgroup.WithContext(ctx)
	if m.Server != nil {
		g.Go(func() error { return m.Server.Start(gctx) })
	}
	g.Go(func() error { return srv.Serve(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
