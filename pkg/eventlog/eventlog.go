// Package eventlog abstracts the internal event log the pipeline consumes: a
// topic of keyed records read independently by several consumer groups, each
// with its own cursor and explicit acknowledgment.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adjust/rmq/v5"
)

// ErrClosed is returned by Fetch once a reader has been closed.
var ErrClosed = errors.New("event log reader closed")

// Message is one record on the event log.
type Message struct {
	Topic     string
	Partition int
	Offset    int64

	Key     []byte
	Value   []byte
	Headers map[string]string

	Time time.Time

	delivery rmq.Delivery
}

func (m Message) Header(key string) string {
	return m.Headers[key]
}

func (m Message) String() string {
	return fmt.Sprintf("%s[%d]@%d key=%s", m.Topic, m.Partition, m.Offset, m.Key)
}

// WithHeaders returns a copy of the message carrying the extra headers.
func (m Message) WithHeaders(extra map[string]string) Message {
	headers := make(map[string]string, len(m.Headers)+len(extra))
	for key, value := range m.Headers {
		headers[key] = value
	}
	for key, value := range extra {
		headers[key] = value
	}
	m.Headers = headers

	return m
}

// Reader is a consumer-group cursor over one topic. Fetch blocks until a record is
// available. Commit marks a record consumed; uncommitted records are redelivered
// after a restart.
type Reader interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, message Message) error
	Close() error
}

// Writer publishes records. Each message names its own topic.
type Writer interface {
	Publish(ctx context.Context, messages ...Message) error
	Close() error
}

// Log hands out readers per (topic, consumer group) and a shared writer.
type Log interface {
	Subscribe(topic string, group string) (Reader, error)
	Writer() Writer
	Close() error
}
