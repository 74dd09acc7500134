// Package history is the durable, append-only log of every persisted vehicle
// position. Duplicate deliveries produce duplicate rows.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/jinzhu/copier"
	"github.com/travigo/vehiclefeed/pkg/position"
)

// ErrConstraintViolation wraps storage errors that retrying can never fix.
var ErrConstraintViolation = errors.New("history constraint violation")

type Record struct {
	VehicleID string  `bson:"vehicle_id" csv:"vehicle_id"`
	FeedID    string  `bson:"feed_id" csv:"feed_id"`
	AgencyID  string  `bson:"agency_id" csv:"agency_id"`
	Latitude  float64 `bson:"latitude" csv:"latitude"`
	Longitude float64 `bson:"longitude" csv:"longitude"`

	Timestamp time.Time `bson:"observed_at" csv:"observed_at"`

	RouteID           string `bson:"route_id" csv:"route_id"`
	TripID            string `bson:"trip_id" csv:"trip_id"`
	DirectionID       uint32 `bson:"direction_id" csv:"direction_id"`
	StartDate         string `bson:"start_date" csv:"start_date"`
	StartTime         string `bson:"start_time" csv:"start_time"`
	CurrentStopID     string `bson:"current_stop_id" csv:"current_stop_id"`
	CurrentStopStatus string `bson:"current_stop_status" csv:"current_stop_status"`
	OccupancyStatus   string `bson:"occupancy_status" csv:"occupancy_status"`
	VehicleLabel      string `bson:"vehicle_label" csv:"vehicle_label"`
	LicensePlate      string `bson:"license_plate" csv:"license_plate"`

	IngestedAt time.Time `bson:"ingested_at" csv:"ingested_at"`
}

var enumConverters = []copier.TypeConverter{
	{
		SrcType: position.StopStatus(0),
		DstType: copier.String,
		Fn: func(src interface{}) (interface{}, error) {
			return src.(position.StopStatus).String(), nil
		},
	},
	{
		SrcType: position.OccupancyStatus(0),
		DstType: copier.String,
		Fn: func(src interface{}) (interface{}, error) {
			return src.(position.OccupancyStatus).String(), nil
		},
	},
}

// NewRecord flattens an envelope into a history row. Position must be set.
func NewRecord(envelope position.Envelope, ingestedAt time.Time) (Record, error) {
	var record Record
	if err := copier.CopyWithOption(&record, &envelope, copier.Option{Converters: enumConverters}); err != nil {
		return Record{}, err
	}

	if envelope.Position != nil {
		record.Latitude, record.Longitude = envelope.Position.Degrees()
	}
	record.Timestamp = envelope.Timestamp.UTC()
	record.IngestedAt = ingestedAt.UTC()

	return record, nil
}

type QueryFilter struct {
	VehicleID string
	FeedID    string
	AgencyID  string

	From time.Time
	To   time.Time

	Limit int
}

// Store buffers appended records until Flush writes them as one atomic unit.
// Flush always empties the buffer, whether or not the write succeeded.
type Store interface {
	Append(ctx context.Context, record Record) error
	Flush(ctx context.Context) error
	Query(ctx context.Context, filter QueryFilter) ([]Record, error)
	Close() error
}
