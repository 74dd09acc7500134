package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogGroupsHaveIndependentCursors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eventLog := NewMemoryLog()

	fast, err := eventLog.Subscribe("positions", "fast")
	require.NoError(t, err)
	slow, err := eventLog.Subscribe("positions", "slow")
	require.NoError(t, err)

	require.NoError(t, eventLog.Writer().Publish(ctx,
		Message{Topic: "positions", Key: []byte("V1"), Value: []byte("one"), Headers: map[string]string{"feedId": "F1"}},
		Message{Topic: "positions", Key: []byte("V2"), Value: []byte("two")},
	))

	for _, reader := range []Reader{fast, slow} {
		first, err := reader.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "one", string(first.Value))
		assert.Equal(t, "F1", first.Header("feedId"))
		assert.Equal(t, int64(0), first.Offset)

		second, err := reader.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "two", string(second.Value))
		assert.Equal(t, int64(1), second.Offset)
	}

	first := eventLog.Messages("positions")[0]
	require.NoError(t, fast.Commit(ctx, first))

	assert.Equal(t, []int64{0}, eventLog.Committed("positions", "fast"))
	assert.Empty(t, eventLog.Committed("positions", "slow"))
}

func TestMemoryLogFetchWaitsForPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eventLog := NewMemoryLog()
	reader, err := eventLog.Subscribe("positions", "fast")
	require.NoError(t, err)

	fetched := make(chan Message, 1)
	go func() {
		message, err := reader.Fetch(ctx)
		if err == nil {
			fetched <- message
		}
	}()

	require.NoError(t, eventLog.Writer().Publish(ctx, Message{Topic: "positions", Value: []byte("late")}))

	select {
	case message := <-fetched:
		assert.Equal(t, "late", string(message.Value))
	case <-ctx.Done():
		t.Fatal("fetch never returned")
	}
}

func TestMemoryLogClose(t *testing.T) {
	eventLog := NewMemoryLog()
	reader, err := eventLog.Subscribe("positions", "fast")
	require.NoError(t, err)

	require.NoError(t, reader.Close())

	_, err = reader.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMessageWithHeadersCopies(t *testing.T) {
	original := Message{Headers: map[string]string{"feedId": "F1"}}
	copied := original.WithHeaders(map[string]string{"x-dlq-path": "fast"})

	assert.Equal(t, "fast", copied.Header("x-dlq-path"))
	assert.Equal(t, "F1", copied.Header("feedId"))
	assert.Empty(t, original.Header("x-dlq-path"))
}
