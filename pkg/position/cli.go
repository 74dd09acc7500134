package position

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/kr/pretty"
	"github.com/urfave/cli/v2"
	"google.golang.org/protobuf/proto"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "position",
		Usage: "Inspect vehicle position payloads",
		Subcommands: []*cli.Command{
			{
				Name:      "decode",
				Usage:     "decode a FeedEntity (or a whole FeedMessage) and print the envelopes",
				ArgsUsage: "[file, defaults to stdin]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "feed",
						Usage: "feed id to attach",
					},
					&cli.StringFlag{
						Name:  "agency",
						Usage: "agency id to attach",
					},
					&cli.BoolFlag{
						Name:  "feed-message",
						Usage: "input is a full FeedMessage such as a snapshot",
					},
				},
				Action: func(c *cli.Context) error {
					input := io.Reader(os.Stdin)
					if c.Args().Present() {
						file, err := os.Open(c.Args().First())
						if err != nil {
							return err
						}
						defer file.Close()
						input = file
					}

					raw, err := io.ReadAll(input)
					if err != nil {
						return err
					}

					metadata := Metadata{FeedID: c.String("feed"), AgencyID: c.String("agency")}

					return PrintDecoded(c.App.Writer, raw, metadata, c.Bool("feed-message"))
				},
			},
		},
	}
}

// PrintDecoded writes each decoded envelope and its validation result to w.
func PrintDecoded(w io.Writer, raw []byte, metadata Metadata, feedMessage bool) error {
	decoder := NewDecoder()

	if !feedMessage {
		decoded, err := decoder.Decode(raw, metadata)
		if err != nil {
			return err
		}

		return printOne(w, decoded)
	}

	message := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(raw, message); err != nil {
		return &DecodeError{Err: err}
	}

	var errs []error
	for _, entity := range message.GetEntity() {
		if err := printOne(w, decoder.FromFeedEntity(entity, metadata)); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func printOne(w io.Writer, decoded Decoded) error {
	if decoded.Kind != KindPosition {
		_, err := fmt.Fprintln(w, "no position data")
		return err
	}

	if _, err := pretty.Fprintf(w, "%# v\n", decoded.Envelope); err != nil {
		return err
	}

	if err := Validate(decoded.Envelope); err != nil {
		_, err = fmt.Fprintf(w, "invalid: %s\n", err)
		return err
	}

	return nil
}
