package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisQueueConfig struct {
	// PrefetchLimit is the number of unacked deliveries a reader holds at once.
	PrefetchLimit int64
	PollDuration  time.Duration

	// Groups pre-registers consumer groups per topic so records published before a
	// group first subscribes are still queued for it.
	Groups map[string][]string
}

// RedisQueueLog implements Log on rmq. Every (topic, group) pair is its own queue
// and Publish copies each record into the queue of every group registered for the
// topic, which gives each group an independent cursor.
type RedisQueueLog struct {
	connection rmq.Connection
	client     redis.Cmdable
	config     RedisQueueConfig

	queuesMutex sync.Mutex
	queues      map[string]rmq.Queue

	writer *redisQueueWriter
}

func NewRedisQueueLog(connection rmq.Connection, client redis.Cmdable, config RedisQueueConfig) *RedisQueueLog {
	if config.PrefetchLimit == 0 {
		config.PrefetchLimit = 10
	}
	if config.PollDuration == 0 {
		config.PollDuration = time.Second
	}

	l := &RedisQueueLog{
		connection: connection,
		client:     client,
		config:     config,
		queues:     map[string]rmq.Queue{},
	}
	l.writer = &redisQueueWriter{log: l}

	return l
}

func QueueName(topic string, group string) string {
	return fmt.Sprintf("%s.%s", topic, group)
}

func groupsKey(topic string) string {
	return fmt.Sprintf("vehiclefeed:eventlog:groups:%s", topic)
}

func (l *RedisQueueLog) openQueue(name string) (rmq.Queue, error) {
	l.queuesMutex.Lock()
	defer l.queuesMutex.Unlock()

	if queue, exists := l.queues[name]; exists {
		return queue, nil
	}

	queue, err := l.connection.OpenQueue(name)
	if err != nil {
		return nil, err
	}
	l.queues[name] = queue

	return queue, nil
}

func (l *RedisQueueLog) groups(ctx context.Context, topic string) ([]string, error) {
	registered, err := l.client.SMembers(ctx, groupsKey(topic)).Result()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var groups []string
	for _, group := range append(l.config.Groups[topic], registered...) {
		if !seen[group] {
			seen[group] = true
			groups = append(groups, group)
		}
	}

	return groups, nil
}

func (l *RedisQueueLog) Subscribe(topic string, group string) (Reader, error) {
	if err := l.client.SAdd(context.Background(), groupsKey(topic), group).Err(); err != nil {
		return nil, err
	}

	name := QueueName(topic, group)
	queue, err := l.openQueue(name)
	if err != nil {
		return nil, err
	}

	if err := queue.StartConsuming(l.config.PrefetchLimit, l.config.PollDuration); err != nil {
		return nil, err
	}

	reader := &redisQueueReader{
		topic:      topic,
		queue:      queue,
		deliveries: make(chan rmq.Delivery),
		closed:     make(chan struct{}),
	}

	if _, err := queue.AddConsumerFunc(fmt.Sprintf("%s-reader", group), reader.consume); err != nil {
		return nil, err
	}

	log.Info().Str("queue", name).Msg("Subscribed to redis queue")

	return reader, nil
}

func (l *RedisQueueLog) Writer() Writer {
	return l.writer
}

func (l *RedisQueueLog) Close() error {
	<-l.connection.StopAllConsuming()
	return nil
}

// redisRecord is the payload stored in rmq, which has no native keys or headers.
type redisRecord struct {
	Topic   string            `json:"topic"`
	Key     []byte            `json:"key"`
	Value   []byte            `json:"value"`
	Headers map[string]string `json:"headers,omitempty"`
	Time    time.Time         `json:"time"`
}

type redisQueueReader struct {
	topic      string
	queue      rmq.Queue
	deliveries chan rmq.Delivery
	closed     chan struct{}
	closeOnce  sync.Once
	offset     atomic.Int64
}

func (r *redisQueueReader) consume(delivery rmq.Delivery) {
	select {
	case r.deliveries <- delivery:
	case <-r.closed:
		// Left unacked, the cleaner returns it once this consumer is gone
	}
}

func (r *redisQueueReader) Fetch(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-r.closed:
		return Message{}, ErrClosed
	case delivery := <-r.deliveries:
		message := Message{
			Topic:    r.topic,
			Offset:   r.offset.Add(1) - 1,
			delivery: delivery,
		}

		var record redisRecord
		if err := json.Unmarshal([]byte(delivery.Payload()), &record); err != nil {
			// Foreign payloads are passed through untouched for the handler to judge
			message.Value = []byte(delivery.Payload())
			return message, nil
		}

		message.Key = record.Key
		message.Value = record.Value
		message.Headers = record.Headers
		message.Time = record.Time

		return message, nil
	}
}

func (r *redisQueueReader) Commit(_ context.Context, message Message) error {
	if message.delivery == nil {
		return fmt.Errorf("message %s was not fetched from a redis queue", message)
	}

	return message.delivery.Ack()
}

func (r *redisQueueReader) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		<-r.queue.StopConsuming()
	})

	return nil
}

type redisQueueWriter struct {
	log *RedisQueueLog
}

func (w *redisQueueWriter) Publish(ctx context.Context, messages ...Message) error {
	for _, message := range messages {
		groups, err := w.log.groups(ctx, message.Topic)
		if err != nil {
			return err
		}

		if len(groups) == 0 {
			log.Warn().Str("topic", message.Topic).Msg("No consumer groups registered, record dropped")
			continue
		}

		timestamp := message.Time
		if timestamp.IsZero() {
			timestamp = time.Now()
		}

		payload, err := json.Marshal(redisRecord{
			Topic:   message.Topic,
			Key:     message.Key,
			Value:   message.Value,
			Headers: message.Headers,
			Time:    timestamp,
		})
		if err != nil {
			return err
		}

		for _, group := range groups {
			queue, err := w.log.openQueue(QueueName(message.Topic, group))
			if err != nil {
				return err
			}

			if err := queue.PublishBytes(payload); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *redisQueueWriter) Close() error {
	return nil
}
