package history

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/database"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Manage the vehicle position history store",
		Subcommands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply the history schema migrations",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					switch cfg.History.Backend {
					case "postgres", "sqlite":
						db, err := database.OpenSQL(cfg.History.Backend, cfg.History.DSN)
						if err != nil {
							return err
						}
						defer db.Close()

						return database.Migrate(db, cfg.History.Backend)
					case "mongo":
						// Collection validator and indexes are created on connect
						return database.ConnectMongoDB()
					default:
						log.Info().Str("backend", cfg.History.Backend).Msg("Nothing to migrate")
						return nil
					}
				},
			},
			{
				Name:  "export",
				Usage: "write history rows as CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vehicle"},
					&cli.StringFlag{Name: "feed"},
					&cli.StringFlag{Name: "agency"},
					&cli.TimestampFlag{Name: "from", Layout: time.RFC3339},
					&cli.TimestampFlag{Name: "to", Layout: time.RFC3339},
					&cli.IntFlag{Name: "limit", Value: 10000},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "file to write, stdout when empty"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					store, err := Open(cfg.History)
					if err != nil {
						return err
					}
					defer store.Close()

					filter := QueryFilter{
						VehicleID: c.String("vehicle"),
						FeedID:    c.String("feed"),
						AgencyID:  c.String("agency"),
						Limit:     c.Int("limit"),
					}
					if from := c.Timestamp("from"); from != nil {
						filter.From = *from
					}
					if to := c.Timestamp("to"); to != nil {
						filter.To = *to
					}

					output := os.Stdout
					if path := c.String("output"); path != "" {
						output, err = os.Create(path)
						if err != nil {
							return err
						}
						defer output.Close()
					}

					exported, err := ExportCSV(context.Background(), store, filter, output)
					if err != nil {
						return fmt.Errorf("export history: %w", err)
					}

					log.Info().Int("records", exported).Msg("Exported history")

					return nil
				},
			},
		},
	}
}
