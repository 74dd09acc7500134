package routes

import (
	"strings"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// IngestRoutes accepts single FeedEntity uploads and puts them on the positions
// topic, the same way the STOMP bridge does for broker frames.
type IngestRoutes struct {
	Writer  eventlog.Writer
	Topic   string
	Decoder *position.Decoder
	Now     func() time.Time
}

func IngestRouter(router fiber.Router, routes *IngestRoutes) {
	router.Post("/f/:feedId/a/:agencyId", routes.postVehiclePosition)
}

// entityBytes returns the binary encoding of the request body. text/plain bodies are
// parsed as protobuf text format, anything else is taken to be binary already.
func entityBytes(c *fiber.Ctx) ([]byte, error) {
	body := c.Body()
	if !strings.Contains(c.Get(fiber.HeaderContentType), mimeText) {
		// fiber reuses the request buffer once the handler returns
		return append([]byte(nil), body...), nil
	}

	var entity gtfs.FeedEntity
	if err := prototext.Unmarshal(body, &entity); err != nil {
		return nil, err
	}

	return proto.Marshal(&entity)
}

func badRequest(c *fiber.Ctx, message string) error {
	c.Status(fiber.StatusBadRequest)
	return c.JSON(fiber.Map{
		"error": message,
	})
}

func (r *IngestRoutes) postVehiclePosition(c *fiber.Ctx) error {
	metadata := position.Metadata{
		FeedID:   c.Params("feedId"),
		AgencyID: c.Params("agencyId"),
	}

	raw, err := entityBytes(c)
	if err != nil {
		return badRequest(c, "Invalid FeedEntity format: "+err.Error())
	}

	decoded, err := r.Decoder.Decode(raw, metadata)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if decoded.Kind != position.KindPosition {
		return badRequest(c, "FeedEntity does not contain vehicle position data")
	}
	if err := position.Validate(decoded.Envelope); err != nil {
		return badRequest(c, err.Error())
	}

	envelope := decoded.Envelope
	err = r.Writer.Publish(c.UserContext(), eventlog.Message{
		Topic: r.Topic,
		Key:   []byte(envelope.VehicleID),
		Value: raw,
		Headers: map[string]string{
			position.HeaderFeedID:   metadata.FeedID,
			position.HeaderAgencyID: metadata.AgencyID,
		},
		Time: r.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("vehicleId", envelope.VehicleID).Msg("Failed to publish ingested position")
		c.Status(fiber.StatusServiceUnavailable)
		return c.JSON(fiber.Map{
			"error": "Event log unavailable",
		})
	}

	log.Debug().Str("vehicleId", envelope.VehicleID).Str("feedId", metadata.FeedID).Str("agencyId", metadata.AgencyID).Msg("Ingested vehicle position")

	return c.JSON(fiber.Map{
		"vehicleId": envelope.VehicleID,
	})
}
