package eventlog

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "eventlog",
		Usage: "Maintenance for the redis queue event log backend",
		Subcommands: []*cli.Command{
			{
				Name:  "cleaner",
				Usage: "return unacked deliveries of dead consumers to their queues",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Value: 5 * time.Minute,
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}
					if err := redis_client.ConnectQueue("vehiclefeed-cleaner"); err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					RunCleaner(ctx, redis_client.QueueConnection, c.Duration("interval"))

					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "serve the redis queue overview page",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":3334",
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}
					if err := redis_client.ConnectQueue("vehiclefeed-stats"); err != nil {
						return err
					}

					http.Handle("/eventlog/stats", NewQueueStatsHandler(redis_client.QueueConnection))

					log.Info().Msgf("Queue stats listening on http://localhost%s/eventlog/stats", c.String("listen"))
					server := &http.Server{Addr: c.String("listen"), ReadHeaderTimeout: 10 * time.Second}

					go func() {
						signals := make(chan os.Signal, 1)
						signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
						<-signals
						server.Close()
					}()

					if err := server.ListenAndServe(); err != http.ErrServerClosed {
						return err
					}

					return nil
				},
			},
		},
	}
}
