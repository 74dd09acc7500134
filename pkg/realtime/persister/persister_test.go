package persister

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/database"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/history"
	"github.com/travigo/vehiclefeed/pkg/position"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func positionMessage(t *testing.T, vehicleID string, latitude float32) eventlog.Message {
	t.Helper()

	raw, err := position.Encode(position.Envelope{
		VehicleID: vehicleID,
		Position:  &position.Point{Latitude: latitude, Longitude: 19.0},
		Timestamp: t0,
		TripID:    "T100",
	})
	require.NoError(t, err)

	return eventlog.Message{
		Key:     []byte(vehicleID),
		Value:   raw,
		Headers: map[string]string{position.HeaderFeedID: "F1"},
	}
}

func newPersister(store history.Store) *Persister {
	persister := New(store, time.Second)
	persister.Now = func() time.Time { return t0.Add(time.Second) }

	return persister
}

func TestPersistTwiceKeepsTwoRows(t *testing.T) {
	ctx := context.Background()

	db, err := database.OpenSQL("sqlite", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "sqlite"))

	store, err := history.NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	defer store.Close()

	persister := newPersister(store)
	message := positionMessage(t, "V1", 50.0)

	assert.Equal(t, consumer.Ack, persister.Handle(ctx, message).Outcome)
	assert.Equal(t, consumer.Ack, persister.Handle(ctx, message).Outcome)

	records, err := store.Query(ctx, history.QueryFilter{VehicleID: "V1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "F1", records[0].FeedID)
	assert.Equal(t, "", records[0].AgencyID)
	assert.Equal(t, "T100", records[1].TripID)
	assert.Equal(t, t0.Add(time.Second), records[1].IngestedAt)
}

func TestPersistClassification(t *testing.T) {
	store := history.NewMemoryStore()
	persister := newPersister(store)

	result := persister.Handle(context.Background(), eventlog.Message{Value: []byte("not protobuf")})
	assert.Equal(t, consumer.DeadLetter, result.Outcome)
	assert.Equal(t, consumer.ReasonDecode, result.Reason)

	result = persister.Handle(context.Background(), positionMessage(t, "V1", 95.0))
	assert.Equal(t, consumer.DeadLetter, result.Outcome)
	assert.Equal(t, consumer.ReasonValidation, result.Reason)

	assert.Empty(t, store.Records())
}

type constraintStore struct {
	*history.MemoryStore
}

func (s constraintStore) Flush(ctx context.Context) error {
	_ = s.MemoryStore.Flush(ctx)
	return fmt.Errorf("%w: duplicate key", history.ErrConstraintViolation)
}

func TestPersistSkipsConstraintViolations(t *testing.T) {
	result := newPersister(constraintStore{history.NewMemoryStore()}).Handle(context.Background(), positionMessage(t, "V1", 50.0))

	assert.Equal(t, consumer.Skip, result.Outcome)
	assert.ErrorIs(t, result.Err, history.ErrConstraintViolation)
}

func TestPersistRetriesStoreFailures(t *testing.T) {
	store := history.NewMemoryStore()
	store.FlushErr = errors.New("connection reset")

	result := newPersister(store).Handle(context.Background(), positionMessage(t, "V1", 50.0))
	assert.Equal(t, consumer.Retry, result.Outcome)
	assert.ErrorIs(t, result.Err, store.FlushErr)

	store.FlushErr = nil
	result = newPersister(store).Handle(context.Background(), positionMessage(t, "V1", 50.0))
	assert.Equal(t, consumer.Ack, result.Outcome)
	assert.Len(t, store.Records(), 1)
}

func TestPersistOnlyTakesSlowPathReplays(t *testing.T) {
	store := history.NewMemoryStore()
	persister := newPersister(store)

	fastReplay := positionMessage(t, "V1", 50.0)
	fastReplay.Headers[position.HeaderReplayPath] = "fast"
	assert.Equal(t, consumer.Skip, persister.Handle(context.Background(), fastReplay).Outcome)
	assert.Empty(t, store.Records())

	slowReplay := positionMessage(t, "V1", 50.0)
	slowReplay.Headers[position.HeaderReplayPath] = "slow"
	assert.Equal(t, consumer.Ack, persister.Handle(context.Background(), slowReplay).Outcome)
	assert.Len(t, store.Records(), 1)
}
