package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/elastic_client"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/util"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "dead-letter",
		Usage: "Watch and replay the dead letter topics",
		Subcommands: []*cli.Command{
			{
				Name:  "monitor",
				Usage: "alert on and index every dead letter",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}
					defer elastic_client.WaitUntilQueueEmpty()

					eventLog, err := eventlog.Open(cfg)
					if err != nil {
						return err
					}
					defer eventLog.Close()

					ctx, cancel := util.SignalContext(context.Background())
					defer cancel()

					stats := &consumer.Stats{}
					server := consumer.StartStatsServer(cfg.EventLog.StatsAddress, "dead-letter", stats, nil)
					defer server.Close()

					return RunMonitor(ctx, cfg, eventLog, NewMonitor(cfg.DeadLetter.AlertInterval, cfg.DeadLetter.AlertBurst, cfg.DeadLetter.ElasticIndexPrefix), stats)
				},
			},
			{
				Name:  "replay",
				Usage: "republish dead letters onto the positions topic",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "path",
						Usage:    "fast or slow",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum letters to replay, 0 for all",
						Value: 100,
					},
					&cli.DurationFlag{
						Name:  "idle-timeout",
						Usage: "stop once no letter arrives for this long",
						Value: 10 * time.Second,
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					var topic string
					switch Path(c.String("path")) {
					case PathFast:
						topic = cfg.EventLog.FastDeadLetterTopic
					case PathSlow:
						topic = cfg.EventLog.SlowDeadLetterTopic
					default:
						return fmt.Errorf("unknown path %q", c.String("path"))
					}

					eventLog, err := eventlog.Open(cfg)
					if err != nil {
						return err
					}
					defer eventLog.Close()

					reader, err := eventLog.Subscribe(topic, cfg.DeadLetter.ReplayGroup)
					if err != nil {
						return err
					}
					defer reader.Close()

					ctx, cancel := util.SignalContext(context.Background())
					defer cancel()

					replayed, err := Replay(ctx, reader, eventLog.Writer(), cfg.EventLog.PositionsTopic, c.Int("limit"), c.Duration("idle-timeout"))
					log.Info().Int("replayed", replayed).Str("topic", topic).Msg("Replay finished")

					return err
				},
			},
		},
	}
}

// RunMonitor consumes both dead letter topics with the monitor until ctx is done.
func RunMonitor(ctx context.Context, cfg config.Config, eventLog eventlog.Log, monitor *Monitor, stats *consumer.Stats) error {
	topics := []string{cfg.EventLog.FastDeadLetterTopic, cfg.EventLog.SlowDeadLetterTopic}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(topics))
	var wg conc.WaitGroup

	for _, topic := range topics {
		reader, err := eventLog.Subscribe(topic, cfg.DeadLetter.MonitorGroup)
		if err != nil {
			return err
		}
		defer reader.Close()

		monitorConsumer := &consumer.Consumer{
			Name:        fmt.Sprintf("dead-letter-%s", topic),
			Reader:      reader,
			Handler:     monitor,
			Concurrency: 1,
			Stats:       stats,
		}

		wg.Go(func() {
			if err := monitorConsumer.Run(ctx); err != nil {
				errs <- err
				cancel()
			}
		})
	}

	wg.Wait()
	close(errs)

	return <-errs
}
