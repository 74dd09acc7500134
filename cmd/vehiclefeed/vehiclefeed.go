package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/api"
	"github.com/travigo/vehiclefeed/pkg/bridge"
	"github.com/travigo/vehiclefeed/pkg/deadletter"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/history"
	"github.com/travigo/vehiclefeed/pkg/position"
	"github.com/travigo/vehiclefeed/pkg/realtime"
	"github.com/travigo/vehiclefeed/pkg/realtime/persister"
	"github.com/travigo/vehiclefeed/pkg/realtime/projector"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	if os.Getenv("VEHICLEFEED_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("VEHICLEFEED_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "vehiclefeed",
		Description: "Single binary for the vehicle position pipeline - runs all the services",

		Commands: []*cli.Command{
			projector.RegisterCLI(),
			persister.RegisterCLI(),
			deadletter.RegisterCLI(),
			api.RegisterCLI(),
			bridge.RegisterCLI(),
			history.RegisterCLI(),
			eventlog.RegisterCLI(),
			position.RegisterCLI(),
			realtime.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
