package api

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/feed"
	"github.com/travigo/vehiclefeed/pkg/util"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "web-api",
		Usage: "Serves the GTFS-RT vehicle positions snapshot and accepts position uploads",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run web api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "listen target for the web server, overrides VEHICLEFEED_LISTEN_ADDRESS",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}
					if c.String("listen") != "" {
						cfg.API.ListenAddress = c.String("listen")
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

					return Run(ctx, cfg, store, eventLog.Writer())
				},
			},
		},
	}
}

// Run serves until ctx is done or the listener fails. Uploads are published through
// ingest when it is set.
func Run(ctx context.Context, cfg config.Config, store cache.Store, ingest eventlog.Writer) error {
	options := OptionsFromConfig(cfg)
	options.Ingest = ingest

	webApp, errs := SetupServer(cfg.API.ListenAddress, store, options)
	log.Info().Str("listen", cfg.API.ListenAddress).Msg("Web API started")

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return webApp.Shutdown()
	}
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Snapshot: feed.SnapshotOptions{
			Version:        cfg.Feed.Version,
			Incrementality: cfg.Feed.Incrementality,
		},
		MaxAge:         cfg.Feed.TTL,
		PositionsTopic: cfg.EventLog.PositionsTopic,
	}
}
