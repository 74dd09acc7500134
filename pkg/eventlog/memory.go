package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-process Log for tests and single-binary development. Records
// are retained for the life of the process and each group keeps its own cursor.
// Uncommitted records are not redelivered.
type MemoryLog struct {
	mutex  sync.Mutex
	topics map[string]*memoryTopic
	writer *memoryWriter
}

type memoryTopic struct {
	messages  []Message
	committed map[string][]int64
	notify    chan struct{}
}

func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{topics: map[string]*memoryTopic{}}
	l.writer = &memoryWriter{log: l}

	return l
}

func (l *MemoryLog) topic(name string) *memoryTopic {
	topic, exists := l.topics[name]
	if !exists {
		topic = &memoryTopic{committed: map[string][]int64{}, notify: make(chan struct{})}
		l.topics[name] = topic
	}

	return topic
}

func (l *MemoryLog) Subscribe(topic string, group string) (Reader, error) {
	return &memoryReader{log: l, topic: topic, group: group, closed: make(chan struct{})}, nil
}

func (l *MemoryLog) Writer() Writer {
	return l.writer
}

func (l *MemoryLog) Close() error {
	return nil
}

// Messages returns every record published to the topic so far.
func (l *MemoryLog) Messages(topic string) []Message {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return append([]Message(nil), l.topic(topic).messages...)
}

// Committed returns the offsets the group has committed on the topic, in commit order.
func (l *MemoryLog) Committed(topic string, group string) []int64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return append([]int64(nil), l.topic(topic).committed[group]...)
}

type memoryReader struct {
	log      *MemoryLog
	topic    string
	group    string
	position int

	closed    chan struct{}
	closeOnce sync.Once
}

func (r *memoryReader) Fetch(ctx context.Context) (Message, error) {
	for {
		r.log.mutex.Lock()
		topic := r.log.topic(r.topic)
		if r.position < len(topic.messages) {
			message := topic.messages[r.position]
			r.position++
			r.log.mutex.Unlock()

			return message, nil
		}
		notify := topic.notify
		r.log.mutex.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-r.closed:
			return Message{}, ErrClosed
		case <-notify:
		}
	}
}

func (r *memoryReader) Commit(_ context.Context, message Message) error {
	r.log.mutex.Lock()
	defer r.log.mutex.Unlock()

	topic := r.log.topic(r.topic)
	topic.committed[r.group] = append(topic.committed[r.group], message.Offset)

	return nil
}

func (r *memoryReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

type memoryWriter struct {
	log *MemoryLog
}

func (w *memoryWriter) Publish(_ context.Context, messages ...Message) error {
	w.log.mutex.Lock()
	defer w.log.mutex.Unlock()

	touched := map[*memoryTopic]bool{}
	for _, message := range messages {
		topic := w.log.topic(message.Topic)

		message.Offset = int64(len(topic.messages))
		if message.Time.IsZero() {
			message.Time = time.Now()
		}
		message.Headers = message.WithHeaders(nil).Headers

		topic.messages = append(topic.messages, message)
		touched[topic] = true
	}

	for topic := range touched {
		close(topic.notify)
		topic.notify = make(chan struct{})
	}

	return nil
}

func (w *memoryWriter) Close() error {
	return nil
}
