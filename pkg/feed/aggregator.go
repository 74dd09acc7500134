// Package feed assembles the GTFS-RT snapshot from the current-state cache.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/vehiclefeed/pkg/cache"
	"github.com/travigo/vehiclefeed/pkg/position"
	"github.com/travigo/vehiclefeed/pkg/util"
)

const fetchConcurrency = 16

// Aggregation is a best effort view of the cache at call time.
type Aggregation struct {
	Entries []position.Envelope
	// Freshness is the newest timestamp among Entries, or the aggregation time
	// when there are none. It is recomputed per call and can move backwards when
	// the newest entry expires.
	Freshness time.Time
}

type Aggregator struct {
	Store cache.Store
	Now   func() time.Time

	programs programCache
}

func NewAggregator(store cache.Store) *Aggregator {
	return &Aggregator{Store: store, Now: time.Now}
}

// Aggregate reads every cached vehicle matching filter. Only a failure to list the
// cache fails the call. A single unreadable entry is logged and left out.
func (a *Aggregator) Aggregate(ctx context.Context, filter Filter) (Aggregation, error) {
	var program *vm.Program
	if filter.Expression != "" {
		compiled, err := a.programs.compile(filter.Expression)
		if err != nil {
			return Aggregation{}, err
		}
		program = compiled
	}

	keys, err := a.Store.Keys(ctx, cache.Pattern)
	if err != nil {
		return Aggregation{}, err
	}

	fetch := pool.NewWithResults[*position.Envelope]().WithContext(ctx).WithMaxGoroutines(fetchConcurrency)
	for _, key := range keys {
		fetch.Go(func(ctx context.Context) (*position.Envelope, error) {
			return a.load(ctx, key)
		})
	}

	loaded, err := fetch.Wait()
	if err != nil {
		return Aggregation{}, err
	}

	util.InPlaceFilter(&loaded, func(envelope *position.Envelope) bool {
		return envelope != nil && filter.matchesIDs(*envelope)
	})

	aggregation := Aggregation{Entries: []position.Envelope{}}
	for _, envelope := range loaded {
		matched, err := matchesProgram(program, *envelope)
		if err != nil {
			log.Debug().Err(err).Str("vehicleId", envelope.VehicleID).Msg("Filter expression failed on entry")
			continue
		}
		if !matched {
			continue
		}

		aggregation.Entries = append(aggregation.Entries, *envelope)
		aggregation.Freshness = util.MaxTime(aggregation.Freshness, envelope.Timestamp)
	}

	sort.Slice(aggregation.Entries, func(i, j int) bool {
		left, right := aggregation.Entries[i], aggregation.Entries[j]
		if left.VehicleID != right.VehicleID {
			return left.VehicleID < right.VehicleID
		}
		return left.AgencyID < right.AgencyID
	})

	if len(aggregation.Entries) == 0 {
		aggregation.Freshness = a.Now().UTC().Truncate(time.Second)
	}

	return aggregation, nil
}

// load returns nil for entries that expired since listing or cannot be read.
func (a *Aggregator) load(ctx context.Context, key string) (*position.Envelope, error) {
	value, err := a.Store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable cache entry")
		return nil, nil
	}

	var envelope position.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Skipping corrupt cache entry")
		return nil, nil
	}
	if envelope.VehicleID == "" || envelope.Position == nil {
		log.Warn().Str("key", key).Msg("Skipping incomplete cache entry")
		return nil, nil
	}

	return &envelope, nil
}
