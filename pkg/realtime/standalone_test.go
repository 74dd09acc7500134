package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/history"
	"github.com/travigo/vehiclefeed/pkg/position"
)

func TestStandaloneFansOutToBothPaths(t *testing.T) {
	cfg := config.Default()
	cfg.EventLog.Backend = "memory"
	cfg.EventLog.StatsAddress = "127.0.0.1:0"
	cfg.Cache.Backend = "memory"
	cfg.History.Backend = "memory"
	cfg.API.ListenAddress = "127.0.0.1:0"

	eventLog := eventlog.NewMemoryLog()
	store := cache.NewMemoryStore()
	historyStore := history.NewMemoryStore()

	raw, err := position.Encode(position.Envelope{
		VehicleID: "V1",
		Position:  &position.Point{Latitude: 50.0, Longitude: 19.0},
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, err)

	require.NoError(t, eventLog.Writer().Publish(context.Background(), eventlog.Message{
		Topic:   cfg.EventLog.PositionsTopic,
		Key:     []byte("V1"),
		Value:   raw,
		Headers: map[string]string{position.HeaderFeedID: "F1", position.HeaderAgencyID: "A1"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Standalone(ctx, cfg, Components{EventLog: eventLog, Cache: store, History: historyStore})
	}()

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), cache.Key("A1", "V1"))
		return err == nil && len(historyStore.Records()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("standalone pipeline did not stop")
	}

	assert.Equal(t, "F1", historyStore.Records()[0].FeedID)
	assert.Empty(t, eventLog.Messages(cfg.EventLog.FastDeadLetterTopic))
	assert.Empty(t, eventLog.Messages(cfg.EventLog.SlowDeadLetterTopic))
	assert.Equal(t, []int64{0}, eventLog.Committed(cfg.EventLog.PositionsTopic, cfg.FastPath.Group))
	assert.Equal(t, []int64{0}, eventLog.Committed(cfg.EventLog.PositionsTopic, cfg.SlowPath.Group))
}
