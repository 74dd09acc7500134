// Package projector is the fast path: it keeps the latest position of every
// vehicle in the current-state cache.
package projector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
)

type Projector struct {
	Store   cache.Store
	Decoder *position.Decoder

	// EntryTTL is how long a vehicle stays visible without a fresh update.
	EntryTTL time.Duration
	// Timeout bounds each cache write. A timeout is retried like any outage.
	Timeout time.Duration
}

func New(store cache.Store, entryTTL time.Duration, timeout time.Duration) *Projector {
	return &Projector{
		Store:    store,
		Decoder:  position.NewDecoder(),
		EntryTTL: entryTTL,
		Timeout:  timeout,
	}
}

// Handle overwrites the vehicle's cache entry. There is no ordering check, so an
// older update redelivered late replaces a newer one until the next update lands.
func (p *Projector) Handle(ctx context.Context, message eventlog.Message) consumer.Result {
	if position.ReplayedForOtherPath(message.Headers, "fast") {
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
		log.Warn().Err(err).Str("path", "fast").Str("vehicleId", envelope.VehicleID).Str("feedId", envelope.FeedID).Msg("Skipping invalid position")
		return consumer.Skipped(consumer.ReasonValidation, err)
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return consumer.DeadLettered(consumer.ReasonValidation, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	if err := p.Store.Set(storeCtx, cache.Key(envelope.AgencyID, envelope.VehicleID), value, p.EntryTTL); err != nil {
		return consumer.Retrying(err)
	}

	return consumer.Acked()
}
