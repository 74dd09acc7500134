// Package position holds the vehicle position envelope carried on the event log
// together with its GTFS-RT wire codec and validation rules.
package position

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// Header keys carrying routing metadata out of band on the event log.
const (
	HeaderFeedID      = "feedId"
	HeaderAgencyID    = "agencyId"
	HeaderSourceTopic = "sourceTopic"

	// HeaderReplayPath marks a dead letter put back on the positions topic. Only the
	// named path ("fast" or "slow") processes it.
	HeaderReplayPath = "x-replay-path"
)

// ReplayedForOtherPath reports whether headers mark a replay meant for a path other
// than path.
func ReplayedForOtherPath(headers map[string]string, path string) bool {
	replayPath := headers[HeaderReplayPath]
	return replayPath != "" && replayPath != path
}

// Envelope is a single decoded vehicle position update plus its routing metadata.
// Envelopes are values; nothing in this module mutates one after Decode returns it.
type Envelope struct {
	VehicleID string `json:"vehicleId" groups:"basic,detailed" validate:"required"`
	AgencyID  string `json:"agencyId,omitempty" groups:"basic,detailed"`
	FeedID    string `json:"feedId,omitempty" groups:"basic,detailed"`

	Position  *Point    `json:"position" groups:"basic,detailed" validate:"required"`
	Timestamp time.Time `json:"timestamp" groups:"basic,detailed"`

	RouteID     string `json:"routeId,omitempty" groups:"detailed"`
	TripID      string `json:"tripId,omitempty" groups:"detailed"`
	DirectionID uint32 `json:"directionId" groups:"detailed"`
	StartDate   string `json:"startDate,omitempty" groups:"detailed"`
	StartTime   string `json:"startTime,omitempty" groups:"detailed"`

	CurrentStopID     string          `json:"currentStopId,omitempty" groups:"detailed"`
	CurrentStopStatus StopStatus      `json:"currentStopStatus,omitempty" groups:"detailed"`
	OccupancyStatus   OccupancyStatus `json:"occupancyStatus,omitempty" groups:"basic,detailed"`

	VehicleLabel string `json:"vehicleLabel,omitempty" groups:"detailed"`
	LicensePlate string `json:"licensePlate,omitempty" groups:"detailed"`
}

// Point is a WGS84 coordinate at the float precision GTFS-RT carries on the wire.
type Point struct {
	Latitude  float32 `json:"latitude" groups:"basic,detailed" validate:"latitude"`
	Longitude float32 `json:"longitude" groups:"basic,detailed" validate:"longitude"`
}

// Degrees widens the coordinate keeping its shortest decimal form, so 50.061947
// stays 50.061947 rather than 50.061946868896484.
func (p Point) Degrees() (latitude float64, longitude float64) {
	return widen(p.Latitude), widen(p.Longitude)
}

func widen(value float32) float64 {
	widened, _ := strconv.ParseFloat(strconv.FormatFloat(float64(value), 'g', -1, 32), 64)
	return widened
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s/%s/%s@%d", e.FeedID, e.AgencyID, e.VehicleID, e.Timestamp.Unix())
}

// StopStatus mirrors the GTFS-RT VehicleStopStatus enum. The zero value means the
// upstream message did not carry a status.
type StopStatus int

const (
	StopStatusUnknown StopStatus = iota
	StopStatusIncomingAt
	StopStatusStoppedAt
	StopStatusInTransitTo
)

func stopStatusFromWire(status gtfs.VehiclePosition_VehicleStopStatus) StopStatus {
	return StopStatus(status) + 1
}

func (s StopStatus) wire() gtfs.VehiclePosition_VehicleStopStatus {
	return gtfs.VehiclePosition_VehicleStopStatus(s - 1)
}

func (s StopStatus) String() string {
	if s == StopStatusUnknown {
		return ""
	}

	return s.wire().String()
}

func (s StopStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StopStatus) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = StopStatusUnknown
		return nil
	}

	value, ok := gtfs.VehiclePosition_VehicleStopStatus_value[string(text)]
	if !ok {
		return fmt.Errorf("unknown stop status %q", text)
	}
	*s = stopStatusFromWire(gtfs.VehiclePosition_VehicleStopStatus(value))

	return nil
}

// OccupancyStatus mirrors the GTFS-RT OccupancyStatus enum shifted by one so the zero
// value can mean "not reported".
type OccupancyStatus int

const (
	OccupancyUnknown OccupancyStatus = iota
	OccupancyEmpty
	OccupancyManySeatsAvailable
	OccupancyFewSeatsAvailable
	OccupancyStandingRoomOnly
	OccupancyCrushedStandingRoomOnly
	OccupancyFull
	OccupancyNotAcceptingPassengers
	OccupancyNoDataAvailable
	OccupancyNotBoardable
)

func occupancyFromWire(status gtfs.VehiclePosition_OccupancyStatus) OccupancyStatus {
	return OccupancyStatus(status) + 1
}

func (o OccupancyStatus) wire() gtfs.VehiclePosition_OccupancyStatus {
	return gtfs.VehiclePosition_OccupancyStatus(o - 1)
}

func (o OccupancyStatus) String() string {
	if o == OccupancyUnknown {
		return ""
	}

	return o.wire().String()
}

func (o OccupancyStatus) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *OccupancyStatus) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*o = OccupancyUnknown
		return nil
	}

	value, ok := gtfs.VehiclePosition_OccupancyStatus_value[string(text)]
	if !ok {
		return fmt.Errorf("unknown occupancy status %q", text)
	}
	*o = occupancyFromWire(gtfs.VehiclePosition_OccupancyStatus(value))

	return nil
}
