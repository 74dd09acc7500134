package bridge

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTopic = errors.New("invalid vehicle position topic")

const minTopicParts = 14

// Route is the routing metadata carried in a Digitransit style topic:
// /gtfsrt/vp/<feed>/<agency>/<agency name>/<mode>/<route>/<direction>/<headsign>/<trip>/<next stop>/<start time>/<vehicle>/...
type Route struct {
	FeedID    string
	AgencyID  string
	VehicleID string
	Topic     string
}

func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	if len(parts) < minTopicParts {
		return Route{}, fmt.Errorf("%w: expected %d parts, got %d", ErrInvalidTopic, minTopicParts, len(parts))
	}

	route := Route{
		FeedID:    parts[3],
		AgencyID:  parts[4],
		VehicleID: parts[13],
		Topic:     topic,
	}

	if route.FeedID == "" || route.AgencyID == "" || route.VehicleID == "" {
		return Route{}, fmt.Errorf("%w: empty feed, agency or vehicle", ErrInvalidTopic)
	}

	return route, nil
}
