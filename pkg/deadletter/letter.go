// Package deadletter routes messages the pipeline gave up on to a dead letter
// topic per path, and watches those topics.
package deadletter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/util"
)

type Path string

const (
	PathFast Path = "fast"
	PathSlow Path = "slow"
)

const (
	HeaderID          = "x-dlq-id"
	HeaderPath        = "x-dlq-path"
	HeaderReason      = "x-dlq-reason"
	HeaderError       = "x-dlq-error"
	HeaderAttempts    = "x-dlq-attempts"
	HeaderFailedAt    = "x-dlq-failed-at"
	HeaderSourceTopic = "x-dlq-source-topic"

	headerPrefix = "x-dlq-"
)

var ErrNotALetter = errors.New("message carries no dead letter headers")

// Letter is an original event log message plus why and where it failed.
type Letter struct {
	ID          string    `json:"id"`
	Path        Path      `json:"path"`
	Reason      string    `json:"reason"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
	SourceTopic string    `json:"source_topic"`

	Message eventlog.Message `json:"-"`
}

// maxErrorLength keeps the error header well inside broker header limits.
const maxErrorLength = 1024

func NewLetter(path Path, message eventlog.Message, reason string, cause error, attempts int, now time.Time) Letter {
	letter := Letter{
		ID:          uuid.NewString(),
		Path:        path,
		Reason:      reason,
		Attempts:    attempts,
		FailedAt:    now.UTC(),
		SourceTopic: message.Topic,
		Message:     message,
	}
	if cause != nil {
		letter.Error = util.TrimString(cause.Error(), maxErrorLength)
	}

	return letter
}

// ToMessage renders the letter for the dead letter topic. The original key, value
// and headers are kept so the record can be replayed unchanged.
func (l Letter) ToMessage(topic string) eventlog.Message {
	message := l.Message.WithHeaders(map[string]string{
		HeaderID:          l.ID,
		HeaderPath:        string(l.Path),
		HeaderReason:      l.Reason,
		HeaderError:       l.Error,
		HeaderAttempts:    strconv.Itoa(l.Attempts),
		HeaderFailedAt:    l.FailedAt.Format(time.RFC3339),
		HeaderSourceTopic: l.SourceTopic,
	})
	message.Topic = topic

	return message
}

// FromMessage reads a letter back off a dead letter topic.
func FromMessage(message eventlog.Message) (Letter, error) {
	if message.Header(HeaderID) == "" || message.Header(HeaderPath) == "" {
		return Letter{}, ErrNotALetter
	}

	letter := Letter{
		ID:          message.Header(HeaderID),
		Path:        Path(message.Header(HeaderPath)),
		Reason:      message.Header(HeaderReason),
		Error:       message.Header(HeaderError),
		SourceTopic: message.Header(HeaderSourceTopic),
		Message:     message,
	}

	if attempts := message.Header(HeaderAttempts); attempts != "" {
		parsed, err := strconv.Atoi(attempts)
		if err != nil {
			return Letter{}, fmt.Errorf("invalid %s header: %w", HeaderAttempts, err)
		}
		letter.Attempts = parsed
	}

	if failedAt := message.Header(HeaderFailedAt); failedAt != "" {
		parsed, err := time.Parse(time.RFC3339, failedAt)
		if err != nil {
			return Letter{}, fmt.Errorf("invalid %s header: %w", HeaderFailedAt, err)
		}
		letter.FailedAt = parsed
	}

	return letter, nil
}

// Original strips the dead letter headers, leaving the message as first published.
func (l Letter) Original(topic string) eventlog.Message {
	headers := map[string]string{}
	for key, value := range l.Message.Headers {
		if !strings.HasPrefix(key, headerPrefix) {
			headers[key] = value
		}
	}

	return eventlog.Message{
		Topic:   topic,
		Key:     l.Message.Key,
		Value:   l.Message.Value,
		Headers: headers,
	}
}
