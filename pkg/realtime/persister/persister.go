// Package persister is the slow path: it appends every position to the history
// store and only acknowledges once the row is durable.
package persister

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/history"
	"github.com/travigo/vehiclefeed/pkg/position"
)

type Persister struct {
	Store   history.Store
	Decoder *position.Decoder
	Timeout time.Duration
	Now     func() time.Time

	// Append and Flush share one buffer, so each pair runs alone.
	mutex sync.Mutex
}

func New(store history.Store, timeout time.Duration) *Persister {
	return &Persister{
		Store:   store,
		Decoder: position.NewDecoder(),
		Timeout: timeout,
		Now:     time.Now,
	}
}

// Handle dead letters decode errors as well as invalid positions: a record the
// history never saw must stay recoverable.
func (p *Persister) Handle(ctx context.Context, message eventlog.Message) consumer.Result {
	if position.ReplayedForOtherPath(message.Headers, "slow") {
		return consumer.Skipped("replay for another path", nil)
	}

	decoded, err := p.Decoder.Decode(message.Value, position.MetadataFromHeaders(message.Headers))
	if err != nil {
		return consumer.DeadLettered(consumer.ReasonDecode, err)
	}
	if decoded.Kind == position.KindOther {
		return consumer.Skipped("no position", nil)
	}

	envelope := decoded.Envelope
	if err := position.Validate(envelope); err != nil {
		// Invalid rows are dead lettered rather than dropped
		return consumer.DeadLettered(consumer.ReasonValidation, err)
	}

	record, err := history.NewRecord(envelope, p.Now())
	if err != nil {
		return consumer.DeadLettered(consumer.ReasonValidation, err)
	}

	if err := p.persist(ctx, record); err != nil {
		if errors.Is(err, history.ErrConstraintViolation) {
			log.Warn().Err(err).Str("path", "slow").Str("vehicleId", envelope.VehicleID).Msg("History rejected position")
			return consumer.Skipped("constraint", err)
		}

		return consumer.Retrying(err)
	}

	return consumer.Acked()
}

func (p *Persister) persist(ctx context.Context, record history.Record) error {
	storeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.Store.Append(storeCtx, record); err != nil {
		// Flush anyway so the buffer never carries a half appended batch
		_ = p.Store.Flush(storeCtx)
		return err
	}

	return p.Store.Flush(storeCtx)
}
