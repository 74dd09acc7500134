package projector

import (
	"context"
	"fmt"

	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/deadletter"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/util"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "fast-path",
		Usage: "Project vehicle positions into the current-state cache",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the fast path consumer group",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					store, err := cache.Open(cfg.Cache)
					if err != nil {
						return err
					}

					eventLog, err := eventlog.Open(cfg)
					if err != nil {
						return err
					}
					defer eventLog.Close()

					ctx, cancel := util.SignalContext(context.Background())
					defer cancel()

					stats := &consumer.Stats{}
					server := consumer.StartStatsServer(cfg.EventLog.StatsAddress, "fast-path", stats, map[string]consumer.HealthCheck{
						"cache": store.Ping,
					})
					defer server.Close()

					return Run(ctx, cfg, eventLog, store, stats)
				},
			},
		},
	}
}

// Run consumes the positions topic as the fast path group until ctx is done.
func Run(ctx context.Context, cfg config.Config, eventLog eventlog.Log, store cache.Store, stats *consumer.Stats) error {
	reader, err := eventLog.Subscribe(cfg.EventLog.PositionsTopic, cfg.FastPath.Group)
	if err != nil {
		return fmt.Errorf("subscribe fast path: %w", err)
	}
	defer reader.Close()

	router := deadletter.NewRouter(eventLog.Writer(), cfg.EventLog.FastDeadLetterTopic, cfg.EventLog.SlowDeadLetterTopic)

	fastConsumer := &consumer.Consumer{
		Name:        "fast-path",
		Reader:      reader,
		Handler:     New(store, cfg.Feed.EntryTTL(), cfg.StoreTimeout),
		DeadLetters: router.For(deadletter.PathFast),
		Retry:       consumer.RetryPolicy{Retries: cfg.FastPath.Retries, Interval: cfg.FastPath.RetryInterval},
		Concurrency: cfg.FastPath.Concurrency,
		Stats:       stats,
	}

	return fastConsumer.Run(ctx)
}
