package realtime

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/vehiclefeed/pkg/api"
	"github.com/travigo/vehiclefeed/pkg/bridge"
	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/deadletter"
	"github.com/travigo/vehiclefeed/pkg/elastic_client"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/history"
	"github.com/travigo/vehiclefeed/pkg/realtime/persister"
	"github.com/travigo/vehiclefeed/pkg/realtime/projector"
	"github.com/travigo/vehiclefeed/pkg/util"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "realtime",
		Usage: "Run the whole pipeline",
		Subcommands: []*cli.Command{
			{
				Name:  "standalone",
				Usage: "run fast path, slow path, dead letter monitor and web api in one process",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "bridge",
						Usage: "also run the STOMP bridge",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}
					defer elastic_client.WaitUntilQueueEmpty()

					store, err := cache.Open(cfg.Cache)
					if err != nil {
						return err
					}

					historyStore, err := history.Open(cfg.History)
					if err != nil {
						return err
					}
					defer historyStore.Close()

					eventLog, err := eventlog.Open(cfg)
					if err != nil {
						return err
					}
					defer eventLog.Close()

					ctx, cancel := util.SignalContext(context.Background())
					defer cancel()

					return Standalone(ctx, cfg, Components{
						EventLog: eventLog,
						Cache:    store,
						History:  historyStore,
						Bridge:   c.Bool("bridge"),
					})
				},
			},
		},
	}
}

type Components struct {
	EventLog eventlog.Log
	Cache    cache.Store
	History  history.Store
	Bridge   bool
}

// Standalone runs every stage against the given backends. The first stage to fail
// stops the rest.
func Standalone(ctx context.Context, cfg config.Config, components Components) error {
	fastStats, slowStats, deadLetterStats := &consumer.Stats{}, &consumer.Stats{}, &consumer.Stats{}

	server := consumer.StartMultiStatsServer(cfg.EventLog.StatsAddress, map[string]*consumer.Stats{
		"fast-path":   fastStats,
		"slow-path":   slowStats,
		"dead-letter": deadLetterStats,
	}, map[string]consumer.HealthCheck{
		"cache": components.Cache.Ping,
	})
	defer server.Close()

	stages := pool.New().WithContext(ctx).WithCancelOnError()

	stages.Go(func(ctx context.Context) error {
		return projector.Run(ctx, cfg, components.EventLog, components.Cache, fastStats)
	})
	stages.Go(func(ctx context.Context) error {
		return persister.Run(ctx, cfg, components.EventLog, components.History, slowStats)
	})
	stages.Go(func(ctx context.Context) error {
		monitor := deadletter.NewMonitor(cfg.DeadLetter.AlertInterval, cfg.DeadLetter.AlertBurst, cfg.DeadLetter.ElasticIndexPrefix)
		return deadletter.RunMonitor(ctx, cfg, components.EventLog, monitor, deadLetterStats)
	})
	stages.Go(func(ctx context.Context) error {
		return api.Run(ctx, cfg, components.Cache, components.EventLog.Writer())
	})

	if components.Bridge {
		stages.Go(func(ctx context.Context) error {
			client := &bridge.StompClient{
				Address:     cfg.Bridge.Address,
				Login:       cfg.Bridge.Login,
				Passcode:    cfg.Bridge.Passcode,
				Destination: cfg.Bridge.Destination,
				Bridge:      bridge.New(components.EventLog.Writer(), cfg.EventLog.PositionsTopic),
				Timeout:     cfg.StoreTimeout,
			}
			return client.Run(ctx)
		})
	}

	log.Info().Str("eventLog", cfg.EventLog.Backend).Str("cache", cfg.Cache.Backend).Str("history", cfg.History.Backend).Msg("Standalone pipeline started")

	return stages.Wait()
}
