package main

import (
	"fmt"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	eventsredis "github.com/marmos91/dittovfs/pkg/events/redis"
	"github.com/marmos91/dittovfs/pkg/volume"
	"golang.org/x/sync/errgroup"
)

type monitorCommand struct {
	Redis bool `long:"redis" description:"Also follow the events published on the configured Redis channel"`
}

func (c *monitorCommand) Execute([]string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	remote, err := volume.NewRemoteMonitor(ctx, s.client, nil)
	if err != nil {
		return err
	}
	monitor := volume.NewUnionMonitor(nil, remote)
	defer monitor.Close()

	for _, v := range monitor.Volumes() {
		printVolume("present", v)
	}
	unsubscribe := monitor.Subscribe(func(ev volume.Event) {
		printVolume(ev.Kind.String(), ev.Volume)
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	if c.Redis {
		rcfg := s.cfg.Events.Redis
		rdb, err := eventsredis.NewClient(ctx, rcfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		g.Go(func() error {
			return eventsredis.Follow(gctx, rdb, rcfg.Channel, nil, func(ev *eventsredis.Event) {
				fmt.Printf("%s  redis    %-9s %s (%s)\n",
					ev.Time.Format(time.RFC3339), ev.Type, ev.Mount.DisplayName, ev.Mount.Spec)
			})
		})
	}

	logger.Info("Following volumes. Press Ctrl+C to stop.")
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func printVolume(what string, v volume.Volume) {
	spec := ""
	if root := v.Root(); root != nil {
		spec = root.Spec.String()
	}
	fmt.Printf("%s  volume   %-9s %s (%s)\n", time.Now().Format(time.RFC3339), what, v.Name(), spec)
}
