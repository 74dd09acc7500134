package projector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/deadletter"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
	"google.golang.org/protobuf/proto"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func positionMessage(t *testing.T, vehicleID string, latitude float32) eventlog.Message {
	t.Helper()

	raw, err := position.Encode(position.Envelope{
		VehicleID: vehicleID,
		Position:  &position.Point{Latitude: latitude, Longitude: 19.0},
		Timestamp: t0,
		RouteID:   "R10",
	})
	require.NoError(t, err)

	return eventlog.Message{
		Topic:   "vehicle-positions-proto",
		Key:     []byte(vehicleID),
		Value:   raw,
		Headers: map[string]string{position.HeaderFeedID: "F1", position.HeaderAgencyID: "A1"},
	}
}

func newProjector(store cache.Store) *Projector {
	projector := New(store, time.Minute, time.Second)
	projector.Decoder.Now = func() time.Time { return t0 }

	return projector
}

func TestProjectWritesEnvelope(t *testing.T) {
	store := cache.NewMemoryStore()
	projector := newProjector(store)

	result := projector.Handle(context.Background(), positionMessage(t, "V1", 50.0))
	assert.Equal(t, consumer.Ack, result.Outcome)

	value, err := store.Get(context.Background(), "vp:A1:V1")
	require.NoError(t, err)

	var envelope position.Envelope
	require.NoError(t, json.Unmarshal(value, &envelope))
	assert.Equal(t, "V1", envelope.VehicleID)
	assert.Equal(t, "F1", envelope.FeedID)
	assert.Equal(t, "A1", envelope.AgencyID)
	assert.Equal(t, float32(50.0), envelope.Position.Latitude)
	assert.True(t, t0.Equal(envelope.Timestamp))
}

func TestProjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	projector := newProjector(store)
	message := positionMessage(t, "V1", 50.0)

	require.Equal(t, consumer.Ack, projector.Handle(ctx, message).Outcome)
	keysOnce, err := store.Keys(ctx, cache.Pattern)
	require.NoError(t, err)
	valueOnce, err := store.Get(ctx, "vp:A1:V1")
	require.NoError(t, err)

	require.Equal(t, consumer.Ack, projector.Handle(ctx, message).Outcome)
	keysTwice, err := store.Keys(ctx, cache.Pattern)
	require.NoError(t, err)
	valueTwice, err := store.Get(ctx, "vp:A1:V1")
	require.NoError(t, err)

	assert.Equal(t, keysOnce, keysTwice)
	assert.Equal(t, valueOnce, valueTwice)
}

func TestProjectSkipsOutOfRangeLatitude(t *testing.T) {
	store := cache.NewMemoryStore()
	result := newProjector(store).Handle(context.Background(), positionMessage(t, "V1", 95.0))

	assert.Equal(t, consumer.Skip, result.Outcome)
	assert.Equal(t, consumer.ReasonValidation, result.Reason)

	var validationErr *position.ValidationError
	assert.ErrorAs(t, result.Err, &validationErr)

	keys, err := store.Keys(context.Background(), cache.Pattern)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestProjectClassifiesPayloads(t *testing.T) {
	tripUpdate, err := proto.Marshal(&gtfs.FeedEntity{
		Id:         proto.String("T1"),
		TripUpdate: &gtfs.TripUpdate{Trip: &gtfs.TripDescriptor{TripId: proto.String("trip")}},
	})
	require.NoError(t, err)

	projector := newProjector(cache.NewMemoryStore())

	result := projector.Handle(context.Background(), eventlog.Message{Value: []byte{0xff, 0x01, 0x02}})
	assert.Equal(t, consumer.DeadLetter, result.Outcome)
	assert.Equal(t, consumer.ReasonDecode, result.Reason)

	result = projector.Handle(context.Background(), eventlog.Message{Value: tripUpdate})
	assert.Equal(t, consumer.Skip, result.Outcome)
	assert.NoError(t, result.Err)
}

type failingStore struct {
	cache.Store
	err error
}

func (s failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return s.err
}

type blockingStore struct {
	cache.Store
}

func (blockingStore) Set(ctx context.Context, _ string, _ []byte, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestProjectRetriesStoreFailures(t *testing.T) {
	unavailable := errors.New("connection refused")

	result := newProjector(failingStore{Store: cache.NewMemoryStore(), err: unavailable}).Handle(context.Background(), positionMessage(t, "V1", 50.0))
	assert.Equal(t, consumer.Retry, result.Outcome)
	assert.ErrorIs(t, result.Err, unavailable)

	projector := newProjector(blockingStore{Store: cache.NewMemoryStore()})
	projector.Timeout = 10 * time.Millisecond

	result = projector.Handle(context.Background(), positionMessage(t, "V1", 50.0))
	assert.Equal(t, consumer.Retry, result.Outcome)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

func TestProjectedEntryExpires(t *testing.T) {
	now := t0
	store := cache.NewMemoryStore()
	store.Now = func() time.Time { return now }

	require.Equal(t, consumer.Ack, newProjector(store).Handle(context.Background(), positionMessage(t, "V1", 50.0)).Outcome)

	now = now.Add(59 * time.Second)
	_, err := store.Get(context.Background(), "vp:A1:V1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Get(context.Background(), "vp:A1:V1")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

type instantTimer struct {
	c chan time.Time
}

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

func TestUnavailableCacheDeadLettersToFastTopicOnly(t *testing.T) {
	eventLog := eventlog.NewMemoryLog()
	reader, err := eventLog.Subscribe("vehicle-positions-proto", "vehiclefeed-fast")
	require.NoError(t, err)

	router := deadletter.NewRouter(eventLog.Writer(), "vehicle-positions-fast-dlq", "vehicle-positions-slow-dlq")

	fastConsumer := &consumer.Consumer{
		Name:        "fast-path",
		Reader:      reader,
		Handler:     newProjector(failingStore{Store: cache.NewMemoryStore(), err: errors.New("connection refused")}),
		DeadLetters: router.For(deadletter.PathFast),
		Retry:       consumer.RetryPolicy{Retries: 2, Interval: time.Second},
		NewTimer:    func() backoff.Timer { return &instantTimer{} },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fastConsumer.Run(ctx) }()

	require.NoError(t, eventLog.Writer().Publish(ctx, positionMessage(t, "V1", 50.0)))

	require.Eventually(t, func() bool {
		return len(eventLog.Committed("vehicle-positions-proto", "vehiclefeed-fast")) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	letters := eventLog.Messages("vehicle-positions-fast-dlq")
	require.Len(t, letters, 1)
	assert.Equal(t, "fast", letters[0].Header(deadletter.HeaderPath))
	assert.Equal(t, consumer.ReasonRetriesExhausted, letters[0].Header(deadletter.HeaderReason))
	assert.Equal(t, "3", letters[0].Header(deadletter.HeaderAttempts))
	assert.Equal(t, []byte("V1"), letters[0].Key)

	assert.Empty(t, eventLog.Messages("vehicle-positions-slow-dlq"))
}

func TestProjectSkipsSlowPathReplay(t *testing.T) {
	ctx := context.Background()
	eventLog := eventlog.NewMemoryLog()
	sink := deadletter.NewSink(deadletter.PathSlow, "vehicle-positions-slow-dlq", eventLog.Writer())
	require.NoError(t, sink.DeadLetter(ctx, positionMessage(t, "V1", 50.0), consumer.ReasonRetriesExhausted, errors.New("db down"), 4))

	replayReader, err := eventLog.Subscribe("vehicle-positions-slow-dlq", "vehiclefeed-dlq-replay")
	require.NoError(t, err)
	replayed, err := deadletter.Replay(ctx, replayReader, eventLog.Writer(), "vehicle-positions-proto", 0, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	republished := eventLog.Messages("vehicle-positions-proto")
	require.Len(t, republished, 1)

	store := cache.NewMemoryStore()
	result := newProjector(store).Handle(ctx, republished[0])
	assert.Equal(t, consumer.Skip, result.Outcome)

	keys, err := store.Keys(ctx, cache.Pattern)
	require.NoError(t, err)
	assert.Empty(t, keys)

	fastReplay := positionMessage(t, "V2", 50.0)
	fastReplay.Headers[position.HeaderReplayPath] = "fast"
	assert.Equal(t, consumer.Ack, newProjector(store).Handle(ctx, fastReplay).Outcome)
}
