package position

import (
	"errors"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Kind tags what a raw event log record turned out to contain.
type Kind int

const (
	// KindOther is a well formed entity that carries no vehicle position, such as a
	// trip update or alert sharing the stream. Callers acknowledge and move on.
	KindOther Kind = iota
	KindPosition
)

func (k Kind) String() string {
	if k == KindPosition {
		return "position"
	}

	return "other"
}

// Metadata is the routing information extracted upstream and carried in headers.
type Metadata struct {
	FeedID   string
	AgencyID string
}

// MetadataFromHeaders reads feed and agency ids, treating missing headers as blank.
func MetadataFromHeaders(headers map[string]string) Metadata {
	return Metadata{
		FeedID:   headers[HeaderFeedID],
		AgencyID: headers[HeaderAgencyID],
	}
}

// Decoded is the result of decoding one record. Envelope is only set for KindPosition.
type Decoded struct {
	Kind     Kind
	Envelope Envelope
}

// Decoder turns wire bytes into envelopes. Now supplies the default timestamp for
// updates that arrive without one.
type Decoder struct {
	Now func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{Now: time.Now}
}

// Decode parses a single GTFS-RT FeedEntity. Malformed bytes return a *DecodeError.
func Decode(raw []byte, metadata Metadata) (Decoded, error) {
	return NewDecoder().Decode(raw, metadata)
}

func (d *Decoder) Decode(raw []byte, metadata Metadata) (Decoded, error) {
	if len(raw) == 0 {
		return Decoded{}, &DecodeError{Err: errors.New("empty payload")}
	}

	entity := &gtfs.FeedEntity{}
	if err := proto.Unmarshal(raw, entity); err != nil {
		return Decoded{}, &DecodeError{Err: err}
	}

	return d.FromFeedEntity(entity, metadata), nil
}

// FromFeedEntity maps an already parsed entity. Entities without a vehicle position
// decode to KindOther.
func (d *Decoder) FromFeedEntity(entity *gtfs.FeedEntity, metadata Metadata) Decoded {
	vehiclePosition := entity.GetVehicle()
	if vehiclePosition == nil {
		return Decoded{Kind: KindOther}
	}

	envelope := Envelope{
		VehicleID: entity.GetId(),
		FeedID:    metadata.FeedID,
		AgencyID:  metadata.AgencyID,
	}

	if descriptor := vehiclePosition.GetVehicle(); descriptor != nil {
		if envelope.VehicleID == "" {
			envelope.VehicleID = descriptor.GetId()
		}
		envelope.VehicleLabel = descriptor.GetLabel()
		envelope.LicensePlate = descriptor.GetLicensePlate()
	}

	if vehiclePosition.Position != nil {
		envelope.Position = &Point{
			Latitude:  vehiclePosition.Position.GetLatitude(),
			Longitude: vehiclePosition.Position.GetLongitude(),
		}
	}

	if vehiclePosition.Timestamp != nil {
		envelope.Timestamp = time.Unix(int64(vehiclePosition.GetTimestamp()), 0).UTC()
	} else {
		envelope.Timestamp = d.now()
	}

	if trip := vehiclePosition.GetTrip(); trip != nil {
		envelope.TripID = trip.GetTripId()
		envelope.RouteID = trip.GetRouteId()
		envelope.DirectionID = trip.GetDirectionId()
		envelope.StartDate = trip.GetStartDate()
		envelope.StartTime = trip.GetStartTime()
	}

	envelope.CurrentStopID = vehiclePosition.GetStopId()
	if vehiclePosition.CurrentStatus != nil {
		envelope.CurrentStopStatus = stopStatusFromWire(vehiclePosition.GetCurrentStatus())
	}
	if vehiclePosition.OccupancyStatus != nil {
		envelope.OccupancyStatus = occupancyFromWire(vehiclePosition.GetOccupancyStatus())
	}

	return Decoded{Kind: KindPosition, Envelope: envelope}
}

func (d *Decoder) now() time.Time {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	return now().UTC().Truncate(time.Second)
}
