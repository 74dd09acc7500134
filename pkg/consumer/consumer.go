// Package consumer runs a handler over an event log subscription and owns the
// acknowledgment mechanics: retry with fixed backoff, dead lettering and commits.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
)

const commitTimeout = 10 * time.Second

type RetryPolicy struct {
	Retries  int
	Interval time.Duration
}

type Consumer struct {
	Name string

	Reader      eventlog.Reader
	Handler     Handler
	DeadLetters DeadLetterSink

	Retry RetryPolicy

	// Concurrency is the number of lanes. Messages are assigned to a lane by key
	// so updates for one vehicle are always handled in order.
	Concurrency int

	Stats *Stats

	// NewTimer overrides the backoff timer, used by tests to skip the waits.
	NewTimer func() backoff.Timer

	logger zerolog.Logger
}

// Run consumes until ctx is cancelled or the reader closes. It returns an error
// when a dead letter could not be published, in which case the message is left
// uncommitted for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger = log.With().Str("consumer", c.Name).Logger()
	if c.Stats == nil {
		c.Stats = &Stats{}
	}

	concurrency := c.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.logger.Info().Int("concurrency", concurrency).Int("retries", c.Retry.Retries).Dur("interval", c.Retry.Interval).Msg("Starting consumer")

	lanes := make([]chan eventlog.Message, concurrency)
	var wg conc.WaitGroup
	for i := range lanes {
		lane := make(chan eventlog.Message)
		lanes[i] = lane

		wg.Go(func() {
			for message := range lane {
				if err := c.process(ctx, message); err != nil {
					cancel(err)
				}
			}
		})
	}

	var fetchErr error
	for ctx.Err() == nil {
		message, err := c.Reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, eventlog.ErrClosed) {
				fetchErr = err
			}
			break
		}
		c.Stats.Fetched.Add(1)

		select {
		case lanes[laneFor(message.Key, concurrency)] <- message:
		case <-ctx.Done():
		}
	}

	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	if fetchErr != nil {
		return fmt.Errorf("fetch from event log: %w", fetchErr)
	}

	c.logger.Info().Msg("Consumer stopped")

	return nil
}

func laneFor(key []byte, lanes int) int {
	if lanes == 1 {
		return 0
	}

	hash := fnv.New32a()
	hash.Write(key)

	return int(hash.Sum32() % uint32(lanes))
}

// process handles one message through its retries and settles it. A non-nil error
// is fatal to the consumer.
func (c *Consumer) process(ctx context.Context, message eventlog.Message) error {
	if ctx.Err() != nil {
		return nil
	}

	logger := c.logger.With().Str("topic", message.Topic).Int("partition", message.Partition).Int64("offset", message.Offset).Logger()

	attempts := 0
	var result Result

	operation := func() error {
		attempts++
		result = c.Handler.Handle(ctx, message)

		if result.Outcome == Retry {
			if result.Err == nil {
				result.Err = errors.New("handler requested retry")
			}
			return result.Err
		}

		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.Stats.Retried.Add(1)
		logger.Debug().Err(err).Int("attempt", attempts).Dur("wait", wait).Msg("Retrying message")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Retry.Interval), uint64(max(c.Retry.Retries, 0))),
		ctx,
	)

	var timer backoff.Timer
	if c.NewTimer != nil {
		timer = c.NewTimer()
	}

	if err := backoff.RetryNotifyWithTimer(operation, policy, notify, timer); err != nil && ctx.Err() != nil {
		// Shutting down mid retry, leave it uncommitted
		return nil
	}

	c.Stats.Processed.Add(1)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	switch result.Outcome {
	case Ack:
		c.Stats.Acked.Add(1)
	case Skip:
		c.Stats.Skipped.Add(1)
		if result.Err != nil {
			logger.Debug().Err(result.Err).Str("reason", result.Reason).Msg("Skipped message")
		}
	case Retry:
		if err := c.deadLetter(settleCtx, message, ReasonRetriesExhausted, result.Err, attempts); err != nil {
			return err
		}
	case DeadLetter:
		if err := c.deadLetter(settleCtx, message, result.Reason, result.Err, attempts); err != nil {
			return err
		}
	}

	if err := c.Reader.Commit(settleCtx, message); err != nil {
		c.Stats.CommitFailures.Add(1)
		logger.Error().Err(err).Msg("Failed to commit message")
	}

	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, message eventlog.Message, reason string, cause error, attempts int) error {
	if c.DeadLetters == nil {
		return fmt.Errorf("no dead letter sink for %s", message)
	}

	if err := c.DeadLetters.DeadLetter(ctx, message, reason, cause, attempts); err != nil {
		c.logger.Error().Err(err).Str("message", message.String()).Msg("Failed to publish dead letter")
		return fmt.Errorf("publish dead letter for %s: %w", message, err)
	}

	c.Stats.DeadLettered.Add(1)

	return nil
}
