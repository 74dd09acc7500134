package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/feed"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

const (
	mimeProtobuf = "application/x-protobuf"
	mimeText     = "text/plain"
	mimeJSON     = "application/json"
)

type FeedRoutes struct {
	Aggregator *feed.Aggregator
	Snapshot   feed.SnapshotOptions
	MaxAge     time.Duration
	Now        func() time.Time
}

func FeedRouter(router fiber.Router, routes *FeedRoutes) {
	router.Get("/feed.pb", routes.getFeed)
	router.Get("/feeds/:feedId/feed.pb", routes.getFeed)
	router.Get("/feeds/:feedId/agencies/:agencyId/feed.pb", routes.getFeed)

	router.Get("/status", routes.getStatus)
	router.Get("/vehicles", routes.getVehicles)
}

func filterFromRequest(c *fiber.Ctx) feed.Filter {
	filter := feed.Filter{
		FeedID:     c.Params("feedId", c.Query("feedId")),
		AgencyID:   c.Params("agencyId", c.Query("agencyId")),
		Expression: c.Query("filter"),
	}

	return filter
}

// parseIfModifiedSince accepts an HTTP-date or unix seconds. Anything else is
// treated as absent.
func parseIfModifiedSince(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	if parsed, err := http.ParseTime(value); err == nil {
		return parsed
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0)
	}

	return time.Time{}
}

// aggregate writes the error response itself when it returns false.
func (r *FeedRoutes) aggregate(c *fiber.Ctx) (feed.Aggregation, bool, error) {
	aggregation, err := r.Aggregator.Aggregate(c.UserContext(), filterFromRequest(c))
	if err == nil {
		return aggregation, true, nil
	}

	if errors.Is(err, feed.ErrInvalidFilter) {
		c.Status(fiber.StatusBadRequest)
		return aggregation, false, c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	log.Error().Err(err).Msg("Failed to aggregate snapshot")
	c.Status(fiber.StatusServiceUnavailable)
	return aggregation, false, c.JSON(fiber.Map{
		"error": "Current state cache unavailable",
	})
}

func (r *FeedRoutes) getFeed(c *fiber.Ctx) error {
	aggregation, ok, err := r.aggregate(c)
	if !ok {
		return err
	}

	c.Set(fiber.HeaderLastModified, aggregation.Freshness.UTC().Format(http.TimeFormat))
	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("max-age=%d", int(r.MaxAge.Seconds())))

	if feed.NotModified(aggregation.Freshness, parseIfModifiedSince(c.Get(fiber.HeaderIfModifiedSince))) {
		c.Status(fiber.StatusNotModified)
		return nil
	}

	message := feed.BuildSnapshot(aggregation.Entries, r.Snapshot, r.Now())

	var body []byte
	contentType := c.Accepts(mimeProtobuf, mimeText, mimeJSON)

	switch contentType {
	case mimeText:
		body, err = prototext.MarshalOptions{Multiline: true}.Marshal(message)
	case mimeJSON:
		body, err = protojson.Marshal(message)
	default:
		contentType = mimeProtobuf
		body, err = proto.Marshal(message)
	}

	if err != nil {
		c.Status(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Could not encode feed",
		})
	}

	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(body)
}

func (r *FeedRoutes) getStatus(c *fiber.Ctx) error {
	aggregation, ok, err := r.aggregate(c)
	if !ok {
		return err
	}

	return c.JSON(aggregation.Status(r.Now()))
}

func (r *FeedRoutes) getVehicles(c *fiber.Ctx) error {
	aggregation, ok, err := r.aggregate(c)
	if !ok {
		return err
	}

	groups := []string{"basic"}
	if c.Query("detail") == "full" {
		groups = append(groups, "detailed")
	}

	// Reduced one by one: sheriff passes Stringer values in a slice through untouched.
	vehiclesReduced := make([]interface{}, 0, len(aggregation.Entries))
	for _, envelope := range aggregation.Entries {
		vehicleReduced, err := sheriff.Marshal(&sheriff.Options{
			Groups: groups,
		}, envelope)
		if err != nil {
			c.Status(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": "Sherrif could not reduce vehicles",
			})
		}

		vehiclesReduced = append(vehiclesReduced, vehicleReduced)
	}

	return c.JSON(vehiclesReduced)
}
