// Package bridge republishes vehicle positions received over STOMP onto the event log.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
)

var ErrEmptyPayload = errors.New("empty payload")

type Bridge struct {
	Writer eventlog.Writer
	Topic  string
	Now    func() time.Time
}

func New(writer eventlog.Writer, topic string) *Bridge {
	return &Bridge{Writer: writer, Topic: topic, Now: time.Now}
}

// Forward publishes payload keyed by vehicle. Topic and payload problems are
// returned wrapped in ErrInvalidTopic or ErrEmptyPayload, anything else came from the writer.
func (b *Bridge) Forward(ctx context.Context, topic string, payload []byte) error {
	route, err := ParseTopic(topic)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	return b.Writer.Publish(ctx, eventlog.Message{
		Topic: b.Topic,
		Key:   []byte(route.VehicleID),
		Value: payload,
		Headers: map[string]string{
			position.HeaderFeedID:      route.FeedID,
			position.HeaderAgencyID:    route.AgencyID,
			position.HeaderSourceTopic: route.Topic,
		},
		Time: b.Now(),
	})
}

func dropped(err error) bool {
	return errors.Is(err, ErrInvalidTopic) || errors.Is(err, ErrEmptyPayload)
}
