package deadletter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
)

// Sink publishes letters for one path to its dead letter topic.
type Sink struct {
	Path   Path
	Topic  string
	Writer eventlog.Writer

	Now func() time.Time
}

func NewSink(path Path, topic string, writer eventlog.Writer) *Sink {
	return &Sink{Path: path, Topic: topic, Writer: writer, Now: time.Now}
}

func (s *Sink) DeadLetter(ctx context.Context, message eventlog.Message, reason string, cause error, attempts int) error {
	letter := NewLetter(s.Path, message, reason, cause, attempts, s.Now())

	if err := s.Writer.Publish(ctx, letter.ToMessage(s.Topic)); err != nil {
		return err
	}

	log.Debug().
		Str("path", string(s.Path)).
		Str("id", letter.ID).
		Str("reason", reason).
		Str("topic", s.Topic).
		Msg("Dead lettered message")

	return nil
}

// Router holds the two independent sinks. Fast and slow failures never share a topic.
type Router struct {
	Fast consumer.DeadLetterSink
	Slow consumer.DeadLetterSink
}

func NewRouter(writer eventlog.Writer, fastTopic string, slowTopic string) *Router {
	return &Router{
		Fast: NewSink(PathFast, fastTopic, writer),
		Slow: NewSink(PathSlow, slowTopic, writer),
	}
}

func (r *Router) For(path Path) consumer.DeadLetterSink {
	if path == PathSlow {
		return r.Slow
	}

	return r.Fast
}
