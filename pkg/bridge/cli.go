package bridge

import (
	"context"

	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/util"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "bridge",
		Usage: "Republish STOMP vehicle positions onto the event log",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the STOMP bridge",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
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

					client := &StompClient{
						Address:     cfg.Bridge.Address,
						Login:       cfg.Bridge.Login,
						Passcode:    cfg.Bridge.Passcode,
						Destination: cfg.Bridge.Destination,
						Bridge:      New(eventLog.Writer(), cfg.EventLog.PositionsTopic),
						Timeout:     cfg.StoreTimeout,
					}

					return client.Run(ctx)
				},
			},
		},
	}
}
