package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
)

const sampleTopic = "/gtfsrt/vp/F1/A1/ZTP/BUS/route_123/1/Downtown/trip_V1/stop_001/14:30:00/V1/u/g/j/k/123/FF0000/"

func TestParseTopic(t *testing.T) {
	route, err := ParseTopic(sampleTopic)
	require.NoError(t, err)
	assert.Equal(t, Route{FeedID: "F1", AgencyID: "A1", VehicleID: "V1", Topic: sampleTopic}, route)

	tests := []struct {
		name  string
		topic string
	}{
		{"short", "/gtfsrt/vp/F1/A1/ZTP"},
		{"trailing slashes only pad", "/gtfsrt/vp/F1/A1/ZTP/BUS/route/1/head/trip/stop/14:30:00/////"},
		{"empty agency", "/gtfsrt/vp/F1//ZTP/BUS/route/1/head/trip/stop/14:30:00/V1/u"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopic(tt.topic)
			assert.ErrorIs(t, err, ErrInvalidTopic)
		})
	}
}

func TestForwardPublishesKeyedByVehicle(t *testing.T) {
	eventLog := eventlog.NewMemoryLog()
	bridge := New(eventLog.Writer(), "vehicle-positions-proto")

	require.NoError(t, bridge.Forward(context.Background(), sampleTopic, []byte{0x0a, 0x02}))

	messages := eventLog.Messages("vehicle-positions-proto")
	require.Len(t, messages, 1)
	assert.Equal(t, "V1", string(messages[0].Key))
	assert.Equal(t, []byte{0x0a, 0x02}, messages[0].Value)
	assert.Equal(t, "F1", messages[0].Header(position.HeaderFeedID))
	assert.Equal(t, "A1", messages[0].Header(position.HeaderAgencyID))
	assert.Equal(t, sampleTopic, messages[0].Header(position.HeaderSourceTopic))
}

func TestForwardDropsInvalidFrames(t *testing.T) {
	eventLog := eventlog.NewMemoryLog()
	bridge := New(eventLog.Writer(), "vehicle-positions-proto")

	err := bridge.Forward(context.Background(), "/gtfsrt/vp/F1", []byte{0x0a})
	assert.True(t, dropped(err))

	err = bridge.Forward(context.Background(), sampleTopic, nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
	assert.True(t, dropped(err))

	assert.Empty(t, eventLog.Messages("vehicle-positions-proto"))
}

type failingWriter struct{}

func (failingWriter) Publish(context.Context, ...eventlog.Message) error {
	return errors.New("broker unavailable")
}

func (failingWriter) Close() error { return nil }

func TestForwardReturnsPublishErrors(t *testing.T) {
	bridge := New(failingWriter{}, "vehicle-positions-proto")
	bridge.Now = func() time.Time { return time.Unix(0, 0) }

	err := bridge.Forward(context.Background(), sampleTopic, []byte{0x0a})
	require.Error(t, err)
	assert.False(t, dropped(err))
}

func TestMessageTopic(t *testing.T) {
	header := frame.NewHeader("topic", sampleTopic)
	assert.Equal(t, sampleTopic, messageTopic(&stomp.Message{Destination: "/gtfsrt/vp/#", Header: header}))

	assert.Equal(t, "/gtfsrt/vp/x", messageTopic(&stomp.Message{Destination: "/gtfsrt/vp/x", Header: frame.NewHeader()}))
	assert.Equal(t, "/gtfsrt/vp/x", messageTopic(&stomp.Message{Destination: "/gtfsrt/vp/x"}))
}

func TestConnectOptionsAddLoginWhenSet(t *testing.T) {
	anonymous := &StompClient{Address: "localhost:61613"}
	assert.Len(t, anonymous.connectOptions(), 1)

	authenticated := &StompClient{Address: "localhost:61613", Login: "user", Passcode: "secret"}
	assert.Len(t, authenticated.connectOptions(), 2)
}
