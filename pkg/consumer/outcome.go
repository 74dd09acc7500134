package consumer

import (
	"context"

	"github.com/travigo/vehiclefeed/pkg/eventlog"
)

type Outcome int

const (
	// Ack means the effect is confirmed and the message can be committed.
	Ack Outcome = iota
	// Retry means the failure is transient. The message is retried per the
	// RetryPolicy and dead lettered once it is exhausted.
	Retry
	// Skip commits without an effect. Redelivery could not change the result.
	Skip
	// DeadLetter is a permanent failure that must not be silently dropped.
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Skip:
		return "skip"
	case DeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// Dead letter reasons.
const (
	ReasonDecode           = "decode"
	ReasonValidation       = "validation"
	ReasonRetriesExhausted = "retries-exhausted"
)

type Result struct {
	Outcome Outcome
	Reason  string
	Err     error
}

func Acked() Result {
	return Result{Outcome: Ack}
}

func Retrying(err error) Result {
	return Result{Outcome: Retry, Err: err}
}

func Skipped(reason string, err error) Result {
	return Result{Outcome: Skip, Reason: reason, Err: err}
}

func DeadLettered(reason string, err error) Result {
	return Result{Outcome: DeadLetter, Reason: reason, Err: err}
}

type Handler interface {
	Handle(ctx context.Context, message eventlog.Message) Result
}

type HandlerFunc func(ctx context.Context, message eventlog.Message) Result

func (f HandlerFunc) Handle(ctx context.Context, message eventlog.Message) Result {
	return f(ctx, message)
}

// DeadLetterSink receives messages that exhausted their retries or failed permanently.
// A nil error means the letter is durably stored and the original may be committed.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, message eventlog.Message, reason string, cause error, attempts int) error
}
