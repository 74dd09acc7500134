// Package api serves the aggregated GTFS-RT snapshot over HTTP and accepts single
// vehicle positions for the event log.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/travigo/vehiclefeed/pkg/api/routes"
	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/feed"
	"github.com/travigo/vehiclefeed/pkg/position"
)

type Options struct {
	Snapshot feed.SnapshotOptions
	// MaxAge is advertised in Cache-Control so clients poll at the feed interval.
	MaxAge time.Duration

	// Ingest enables POST /vp uploads onto PositionsTopic. Left nil the API is read only.
	Ingest         eventlog.Writer
	PositionsTopic string
}

func NewApp(store cache.Store, options Options) *fiber.App {
	webApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	webApp.Use(NewLogger())

	routes.HealthRouter(webApp.Group("/health"), store)

	routes.FeedRouter(webApp.Group("/gtfs-rt"), &routes.FeedRoutes{
		Aggregator: feed.NewAggregator(store),
		Snapshot:   options.Snapshot,
		MaxAge:     options.MaxAge,
		Now:        time.Now,
	})

	if options.Ingest != nil {
		routes.IngestRouter(webApp.Group("/vp"), &routes.IngestRoutes{
			Writer:  options.Ingest,
			Topic:   options.PositionsTopic,
			Decoder: position.NewDecoder(),
			Now:     time.Now,
		})
	}

	return webApp
}

func SetupServer(listen string, store cache.Store, options Options) (*fiber.App, chan error) {
	webApp := NewApp(store, options)

	errs := make(chan error, 1)
	go func() {
		errs <- webApp.Listen(listen)
	}()

	return webApp, errs
}
