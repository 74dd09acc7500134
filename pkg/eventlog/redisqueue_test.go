package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/vehiclefeed/pkg/config"
)

type redisQueueFixture struct {
	log        *RedisQueueLog
	connection rmq.Connection
}

func newRedisQueueFixture(t *testing.T, groups map[string][]string) redisQueueFixture {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	connection, err := rmq.OpenConnectionWithRedisClient("test", client, nil)
	require.NoError(t, err)

	eventLog := NewRedisQueueLog(connection, client, RedisQueueConfig{
		PollDuration: 10 * time.Millisecond,
		Groups:       groups,
	})
	t.Cleanup(func() { eventLog.Close() })

	return redisQueueFixture{log: eventLog, connection: connection}
}

func (f redisQueueFixture) subscribe(t *testing.T, topic string, group string) Reader {
	t.Helper()

	reader, err := f.log.Subscribe(topic, group)
	require.NoError(t, err)
	// Readers close before the log so blocked consumers return
	t.Cleanup(func() { reader.Close() })

	return reader
}

func fetchWithin(t *testing.T, reader Reader) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	message, err := reader.Fetch(ctx)
	require.NoError(t, err)

	return message
}

func TestGroupsRegistersBothDeadLetterReaders(t *testing.T) {
	cfg := config.Default()
	groups := Groups(cfg)

	assert.Equal(t, []string{cfg.FastPath.Group, cfg.SlowPath.Group}, groups[cfg.EventLog.PositionsTopic])
	for _, topic := range []string{cfg.EventLog.FastDeadLetterTopic, cfg.EventLog.SlowDeadLetterTopic} {
		assert.ElementsMatch(t, []string{cfg.DeadLetter.MonitorGroup, cfg.DeadLetter.ReplayGroup}, groups[topic])
	}
}

func TestRedisQueueKeepsDeadLettersForReplayGroup(t *testing.T) {
	cfg := config.Default()
	fixture := newRedisQueueFixture(t, Groups(cfg))
	topic := cfg.EventLog.SlowDeadLetterTopic

	// Published while only the monitor has ever subscribed
	fixture.subscribe(t, topic, cfg.DeadLetter.MonitorGroup)
	require.NoError(t, fixture.log.Writer().Publish(context.Background(), Message{
		Topic:   topic,
		Key:     []byte("V1"),
		Value:   []byte("letter"),
		Headers: map[string]string{"x-dlq-path": "slow"},
	}))

	replay := fixture.subscribe(t, topic, cfg.DeadLetter.ReplayGroup)
	message := fetchWithin(t, replay)

	assert.Equal(t, topic, message.Topic)
	assert.Equal(t, []byte("V1"), message.Key)
	assert.Equal(t, "letter", string(message.Value))
	assert.Equal(t, "slow", message.Header("x-dlq-path"))
	assert.Equal(t, int64(0), message.Offset)
	assert.False(t, message.Time.IsZero())
}

func TestRedisQueueGroupsHaveIndependentCursors(t *testing.T) {
	fixture := newRedisQueueFixture(t, map[string][]string{"positions": {"fast", "slow"}})

	fast := fixture.subscribe(t, "positions", "fast")
	slow := fixture.subscribe(t, "positions", "slow")

	require.NoError(t, fixture.log.Writer().Publish(context.Background(),
		Message{Topic: "positions", Key: []byte("V1"), Value: []byte("one")},
	))

	fastMessage := fetchWithin(t, fast)
	require.NoError(t, fast.Commit(context.Background(), fastMessage))

	// Committing on one group leaves the other untouched
	slowMessage := fetchWithin(t, slow)
	assert.Equal(t, "one", string(fastMessage.Value))
	assert.Equal(t, "one", string(slowMessage.Value))
}

func TestRedisQueueCommitAcknowledges(t *testing.T) {
	fixture := newRedisQueueFixture(t, map[string][]string{"positions": {"fast"}})
	reader := fixture.subscribe(t, "positions", "fast")
	name := QueueName("positions", "fast")

	require.NoError(t, fixture.log.Writer().Publish(context.Background(),
		Message{Topic: "positions", Key: []byte("V1"), Value: []byte("one")},
	))

	message := fetchWithin(t, reader)

	stats, err := fixture.connection.CollectStats([]string{name})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QueueStats[name].UnackedCount())

	require.NoError(t, reader.Commit(context.Background(), message))

	stats, err = fixture.connection.CollectStats([]string{name})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueStats[name].UnackedCount())
	assert.Equal(t, int64(0), stats.QueueStats[name].ReadyCount)
}

func TestRedisQueueRejectsForeignCommit(t *testing.T) {
	fixture := newRedisQueueFixture(t, nil)
	reader := fixture.subscribe(t, "positions", "fast")

	assert.Error(t, reader.Commit(context.Background(), Message{Topic: "positions"}))
}

func TestRedisQueuePassesForeignPayloadsThrough(t *testing.T) {
	fixture := newRedisQueueFixture(t, nil)
	reader := fixture.subscribe(t, "positions", "fast")

	queue, err := fixture.connection.OpenQueue(QueueName("positions", "fast"))
	require.NoError(t, err)
	require.NoError(t, queue.Publish("raw bytes"))

	message := fetchWithin(t, reader)
	assert.Equal(t, "raw bytes", string(message.Value))
	assert.Nil(t, message.Key)
	assert.Empty(t, message.Headers)
}

func TestRedisQueueRegistersGroupsOnSubscribe(t *testing.T) {
	fixture := newRedisQueueFixture(t, nil)
	ctx := context.Background()

	// No group knows the topic yet, so the record goes nowhere
	require.NoError(t, fixture.log.Writer().Publish(ctx, Message{Topic: "adhoc", Value: []byte("lost")}))

	reader := fixture.subscribe(t, "adhoc", "late")
	require.NoError(t, fixture.log.Writer().Publish(ctx, Message{Topic: "adhoc", Value: []byte("kept")}))

	message := fetchWithin(t, reader)
	assert.Equal(t, "kept", string(message.Value))
}

func TestRedisQueueFetchAfterClose(t *testing.T) {
	fixture := newRedisQueueFixture(t, nil)
	reader := fixture.subscribe(t, "positions", "fast")

	require.NoError(t, reader.Close())

	_, err := reader.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
