package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
	"golang.org/x/time/rate"
)

var failedAt = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func original() eventlog.Message {
	return eventlog.Message{
		Topic:   "vehicle-positions-proto",
		Key:     []byte("V1"),
		Value:   []byte{0x0a, 0x02, 0x56, 0x31},
		Headers: map[string]string{"feedId": "F1", "agencyId": "A1"},
	}
}

func TestLetterHeaders(t *testing.T) {
	letter := NewLetter(PathSlow, original(), consumer.ReasonRetriesExhausted, errors.New("connection refused"), 4, failedAt)
	message := letter.ToMessage("vehicle-positions-slow-dlq")

	assert.Equal(t, "vehicle-positions-slow-dlq", message.Topic)
	assert.Equal(t, []byte("V1"), message.Key)
	assert.Equal(t, "slow", message.Header(HeaderPath))
	assert.Equal(t, "retries-exhausted", message.Header(HeaderReason))
	assert.Equal(t, "connection refused", message.Header(HeaderError))
	assert.Equal(t, "4", message.Header(HeaderAttempts))
	assert.Equal(t, "2024-05-01T12:30:00Z", message.Header(HeaderFailedAt))
	assert.Equal(t, "vehicle-positions-proto", message.Header(HeaderSourceTopic))
	assert.Equal(t, "F1", message.Header("feedId"))
	assert.NotEmpty(t, message.Header(HeaderID))

	parsed, err := FromMessage(message)
	require.NoError(t, err)
	assert.Equal(t, letter.ID, parsed.ID)
	assert.Equal(t, PathSlow, parsed.Path)
	assert.Equal(t, 4, parsed.Attempts)
	assert.True(t, failedAt.Equal(parsed.FailedAt))

	replayed := parsed.Original("vehicle-positions-proto")
	assert.Equal(t, map[string]string{"feedId": "F1", "agencyId": "A1"}, replayed.Headers)
	assert.Equal(t, original().Value, replayed.Value)
}

func TestFromMessageRejectsPlainMessages(t *testing.T) {
	_, err := FromMessage(original())
	assert.ErrorIs(t, err, ErrNotALetter)
}

func TestRouterKeepsPathsApart(t *testing.T) {
	ctx := context.Background()
	eventLog := eventlog.NewMemoryLog()
	router := NewRouter(eventLog.Writer(), "fast-dlq", "slow-dlq")

	require.NoError(t, router.For(PathFast).DeadLetter(ctx, original(), consumer.ReasonRetriesExhausted, errors.New("cache down"), 3))

	fast := eventLog.Messages("fast-dlq")
	require.Len(t, fast, 1)
	assert.Equal(t, "fast", fast[0].Header(HeaderPath))
	assert.Empty(t, eventLog.Messages("slow-dlq"))

	require.NoError(t, router.For(PathSlow).DeadLetter(ctx, original(), consumer.ReasonValidation, errors.New("latitude out of range"), 1))
	require.Len(t, eventLog.Messages("slow-dlq"), 1)
	assert.Len(t, eventLog.Messages("fast-dlq"), 1)
}

func TestMonitorIndexesLetters(t *testing.T) {
	var indexed []string
	var documents []map[string]any

	monitor := NewMonitor(time.Minute, 1, "vehiclefeed-dead-letters")
	monitor.Now = func() time.Time { return failedAt }
	monitor.Index = func(indexName string, document io.ReadSeeker) {
		indexed = append(indexed, indexName)

		var decoded map[string]any
		require.NoError(t, json.NewDecoder(document).Decode(&decoded))
		documents = append(documents, decoded)
	}

	letter := NewLetter(PathSlow, original(), consumer.ReasonValidation, errors.New("latitude out of range"), 1, failedAt)
	result := monitor.Handle(context.Background(), letter.ToMessage("slow-dlq"))

	assert.Equal(t, consumer.Ack, result.Outcome)
	assert.Equal(t, []string{"vehiclefeed-dead-letters-2024-18"}, indexed)
	require.Len(t, documents, 1)
	assert.Equal(t, "V1", documents[0]["vehicle_id"])
	assert.Equal(t, "F1", documents[0]["feed_id"])
	assert.Equal(t, "slow", documents[0]["path"])
	assert.Equal(t, "validation", documents[0]["reason"])
}

func TestMonitorRateLimitsFastPath(t *testing.T) {
	monitor := NewMonitor(time.Hour, 2, "")
	monitor.Limiter = rate.NewLimiter(rate.Every(time.Hour), 2)

	for range 5 {
		letter := NewLetter(PathFast, original(), consumer.ReasonRetriesExhausted, errors.New("cache down"), 3, failedAt)
		assert.Equal(t, consumer.Ack, monitor.Handle(context.Background(), letter.ToMessage("fast-dlq")).Outcome)
	}
	assert.Equal(t, int64(3), monitor.Suppressed())

	// slow path letters never count against the limiter
	letter := NewLetter(PathSlow, original(), consumer.ReasonRetriesExhausted, errors.New("db down"), 4, failedAt)
	monitor.Handle(context.Background(), letter.ToMessage("slow-dlq"))
	assert.Equal(t, int64(3), monitor.Suppressed())
}

func TestMonitorSkipsMalformed(t *testing.T) {
	result := NewMonitor(time.Minute, 1, "").Handle(context.Background(), original())
	assert.Equal(t, consumer.Skip, result.Outcome)
}

func TestReplayRespectsLimit(t *testing.T) {
	ctx := context.Background()
	eventLog := eventlog.NewMemoryLog()
	sink := NewSink(PathSlow, "slow-dlq", eventLog.Writer())

	for _, vehicle := range []string{"V1", "V2", "V3"} {
		message := original()
		message.Key = []byte(vehicle)
		require.NoError(t, sink.DeadLetter(ctx, message, consumer.ReasonRetriesExhausted, errors.New("db down"), 4))
	}

	reader, err := eventLog.Subscribe("slow-dlq", "replay")
	require.NoError(t, err)

	replayed, err := Replay(ctx, reader, eventLog.Writer(), "vehicle-positions-proto", 2, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)

	republished := eventLog.Messages("vehicle-positions-proto")
	require.Len(t, republished, 2)
	assert.Equal(t, []byte("V1"), republished[0].Key)
	assert.Equal(t, []byte("V2"), republished[1].Key)
	assert.Empty(t, republished[0].Header(HeaderID))
	assert.Equal(t, "F1", republished[0].Header("feedId"))
	assert.Equal(t, "slow", republished[0].Header(position.HeaderReplayPath))
	assert.Equal(t, []int64{0, 1}, eventLog.Committed("slow-dlq", "replay"))

	replayed, err = Replay(ctx, reader, eventLog.Writer(), "vehicle-positions-proto", 0, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
}
