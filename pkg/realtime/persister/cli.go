package persister

import (
	"context"
	"fmt"

	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/deadletter"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/history"
	"github.com/travigo/vehiclefeed/pkg/util"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "slow-path",
		Usage: "Persist every vehicle position to the history store",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the slow path consumer group",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					store, err := history.Open(cfg.History)
					if err != nil {
						return err
					}
					defer store.Close()

					eventLog, err := eventlog.Open(cfg)
					if err != nil {
						return err
					}
					defer eventLog.Close()

					ctx, cancel := util.SignalContext(context.Background())
					defer cancel()

					stats := &consumer.Stats{}
					server := consumer.StartStatsServer(cfg.EventLog.StatsAddress, "slow-path", stats, nil)
					defer server.Close()

					return Run(ctx, cfg, eventLog, store, stats)
				},
			},
		},
	}
}

// Run consumes the positions topic as the slow path group until ctx is done.
func Run(ctx context.Context, cfg config.Config, eventLog eventlog.Log, store history.Store, stats *consumer.Stats) error {
	reader, err := eventLog.Subscribe(cfg.EventLog.PositionsTopic, cfg.SlowPath.Group)
	if err != nil {
		return fmt.Errorf("subscribe slow path: %w", err)
	}
	defer reader.Close()

	router := deadletter.NewRouter(eventLog.Writer(), cfg.EventLog.FastDeadLetterTopic, cfg.EventLog.SlowDeadLetterTopic)

	slowConsumer := &consumer.Consumer{
		Name:        "slow-path",
		Reader:      reader,
		Handler:     New(store, cfg.StoreTimeout),
		DeadLetters: router.For(deadletter.PathSlow),
		Retry:       consumer.RetryPolicy{Retries: cfg.SlowPath.Retries, Interval: cfg.SlowPath.RetryInterval},
		Concurrency: cfg.SlowPath.Concurrency,
		Stats:       stats,
	}

	return slowConsumer.Run(ctx)
}
