package feed

import (
	"fmt"
	"sort"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/travigo/vehiclefeed/pkg/position"
	"github.com/travigo/vehiclefeed/pkg/util"
	"google.golang.org/protobuf/proto"
)

type SnapshotOptions struct {
	Version        string
	Incrementality string
}

// BuildSnapshot wraps entries into a GTFS-RT FeedMessage stamped with now.
// Entity ids are the vehicle id. When entries span several agencies every entity
// with an agency is qualified as agency:vehicle, so an id does not depend on
// which other vehicles happen to be in the snapshot.
func BuildSnapshot(entries []position.Envelope, options SnapshotOptions, now time.Time) *gtfs.FeedMessage {
	version := options.Version
	if version == "" {
		version = "2.0"
	}

	incrementality := gtfs.FeedHeader_FULL_DATASET
	if value, exists := gtfs.FeedHeader_Incrementality_value[options.Incrementality]; exists {
		incrementality = gtfs.FeedHeader_Incrementality(value)
	}

	message := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(version),
			Incrementality:      incrementality.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(entries)),
	}

	agencies := map[string]bool{}
	for _, envelope := range entries {
		agencies[envelope.AgencyID] = true
	}
	qualify := len(agencies) > 1

	for _, envelope := range entries {
		entity := position.ToFeedEntity(envelope)
		if qualify && envelope.AgencyID != "" {
			entity.Id = proto.String(fmt.Sprintf("%s:%s", envelope.AgencyID, envelope.VehicleID))
		}

		message.Entity = append(message.Entity, entity)
	}

	return message
}

// NotModified reports whether a client holding ifModifiedSince already has the
// snapshot at freshness. HTTP dates carry whole seconds so both sides are truncated.
func NotModified(freshness time.Time, ifModifiedSince time.Time) bool {
	if ifModifiedSince.IsZero() {
		return false
	}

	return !freshness.Truncate(time.Second).After(ifModifiedSince.Truncate(time.Second))
}

// Status summarises the current cache for operators.
type Status struct {
	Entities           int       `json:"entities"`
	LastUpdate         time.Time `json:"lastUpdate"`
	SecondsSinceUpdate int64     `json:"secondsSinceUpdate"`
	Feeds              []string  `json:"feeds"`
}

func (a Aggregation) Status(now time.Time) Status {
	status := Status{
		Entities: len(a.Entries),
		Feeds:    []string{},
	}

	if len(a.Entries) > 0 {
		status.LastUpdate = a.Freshness
		status.SecondsSinceUpdate = int64(now.Sub(a.Freshness).Seconds())
	}

	feeds := make([]string, 0, len(a.Entries))
	for _, envelope := range a.Entries {
		feeds = append(feeds, envelope.FeedID)
	}
	status.Feeds = append(status.Feeds, util.RemoveDuplicateStrings(feeds, nil)...)
	sort.Strings(status.Feeds)

	return status
}
