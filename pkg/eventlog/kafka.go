package eventlog

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// MaxWait bounds how long a fetch waits for new data before polling again.
	MaxWait time.Duration
}

// KafkaLog is the production event log. Consumer groups map directly onto Kafka
// consumer groups and offsets are committed explicitly, never on an interval.
type KafkaLog struct {
	config KafkaConfig
	writer *kafkaWriter
}

func NewKafkaLog(config KafkaConfig) *KafkaLog {
	if config.MaxWait == 0 {
		config.MaxWait = 500 * time.Millisecond
	}

	return &KafkaLog{
		config: config,
		writer: &kafkaWriter{
			writer: &kafka.Writer{
				Addr:                   kafka.TCP(config.Brokers...),
				Balancer:               &kafka.Hash{},
				RequiredAcks:           kafka.RequireOne,
				Compression:            kafka.Snappy,
				BatchTimeout:           10 * time.Millisecond,
				AllowAutoTopicCreation: true,
			},
		},
	}
}

func (l *KafkaLog) Subscribe(topic string, group string) (Reader, error) {
	if len(l.config.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        l.config.Brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        l.config.MaxWait,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		Dialer: &kafka.Dialer{
			ClientID:  l.config.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})

	log.Info().Str("topic", topic).Str("group", group).Strs("brokers", l.config.Brokers).Msg("Subscribed to kafka topic")

	return &kafkaReader{reader: reader, offsets: newOffsetTracker()}, nil
}

func (l *KafkaLog) Writer() Writer {
	return l.writer
}

func (l *KafkaLog) Close() error {
	return l.writer.Close()
}

type kafkaReader struct {
	reader  *kafka.Reader
	offsets *offsetTracker
}

func (r *kafkaReader) Fetch(ctx context.Context) (Message, error) {
	kafkaMessage, err := r.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}

	r.offsets.Fetched(kafkaMessage.Partition, kafkaMessage.Offset)

	headers := make(map[string]string, len(kafkaMessage.Headers))
	for _, header := range kafkaMessage.Headers {
		headers[header.Key] = string(header.Value)
	}

	return Message{
		Topic:     kafkaMessage.Topic,
		Partition: kafkaMessage.Partition,
		Offset:    kafkaMessage.Offset,
		Key:       kafkaMessage.Key,
		Value:     kafkaMessage.Value,
		Headers:   headers,
		Time:      kafkaMessage.Time,
	}, nil
}

func (r *kafkaReader) Commit(ctx context.Context, message Message) error {
	committable := r.offsets.Done(message.Partition, message.Offset)
	if committable < 0 {
		return nil
	}

	return r.reader.CommitMessages(ctx, kafka.Message{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    committable,
	})
}

func (r *kafkaReader) Close() error {
	return r.reader.Close()
}

type kafkaWriter struct {
	writer *kafka.Writer
}

func (w *kafkaWriter) Publish(ctx context.Context, messages ...Message) error {
	kafkaMessages := make([]kafka.Message, 0, len(messages))

	for _, message := range messages {
		headers := make([]kafka.Header, 0, len(message.Headers))
		for key, value := range message.Headers {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
		}

		kafkaMessages = append(kafkaMessages, kafka.Message{
			Topic:   message.Topic,
			Key:     message.Key,
			Value:   message.Value,
			Headers: headers,
		})
	}

	return w.writer.WriteMessages(ctx, kafkaMessages...)
}

func (w *kafkaWriter) Close() error {
	return w.writer.Close()
}
