package position

import (
	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Encode serialises an envelope as a GTFS-RT FeedEntity.
func Encode(envelope Envelope) ([]byte, error) {
	return proto.Marshal(ToFeedEntity(envelope))
}

// ToFeedEntity converts an envelope back into its external wire representation.
// Coordinates are float32 on the wire.
func ToFeedEntity(envelope Envelope) *gtfs.FeedEntity {
	trip := &gtfs.TripDescriptor{
		DirectionId: proto.Uint32(envelope.DirectionID),
	}
	if envelope.TripID != "" {
		trip.TripId = proto.String(envelope.TripID)
	}
	if envelope.RouteID != "" {
		trip.RouteId = proto.String(envelope.RouteID)
	}
	if envelope.StartDate != "" {
		trip.StartDate = proto.String(envelope.StartDate)
	}
	if envelope.StartTime != "" {
		trip.StartTime = proto.String(envelope.StartTime)
	}

	descriptor := &gtfs.VehicleDescriptor{
		Id: proto.String(envelope.VehicleID),
	}
	if envelope.VehicleLabel != "" {
		descriptor.Label = proto.String(envelope.VehicleLabel)
	}
	if envelope.LicensePlate != "" {
		descriptor.LicensePlate = proto.String(envelope.LicensePlate)
	}

	vehiclePosition := &gtfs.VehiclePosition{
		Trip:      trip,
		Vehicle:   descriptor,
		Timestamp: proto.Uint64(uint64(envelope.Timestamp.Unix())),
	}

	if envelope.Position != nil {
		vehiclePosition.Position = &gtfs.Position{
			Latitude:  proto.Float32(envelope.Position.Latitude),
			Longitude: proto.Float32(envelope.Position.Longitude),
		}
	}

	if envelope.CurrentStopID != "" {
		vehiclePosition.StopId = proto.String(envelope.CurrentStopID)
	}
	if envelope.CurrentStopStatus != StopStatusUnknown {
		vehiclePosition.CurrentStatus = envelope.CurrentStopStatus.wire().Enum()
	}
	if envelope.OccupancyStatus != OccupancyUnknown {
		vehiclePosition.OccupancyStatus = envelope.OccupancyStatus.wire().Enum()
	}

	return &gtfs.FeedEntity{
		Id:      proto.String(envelope.VehicleID),
		Vehicle: vehiclePosition,
	}
}
