package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/consumer"
	"github.com/travigo/vehiclefeed/pkg/elastic_client"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
	"golang.org/x/time/rate"
)

// Monitor alerts on dead letters. Fast path letters are expected noise while the
// cache recovers and are rate limited. Every slow path letter is a lost history
// record and is always reported.
type Monitor struct {
	Limiter     *rate.Limiter
	IndexPrefix string

	// Index receives one JSON document per letter. Defaults to the Elasticsearch
	// bulk indexer, which is a no-op when it is not configured.
	Index func(indexName string, document io.ReadSeeker)

	Now func() time.Time

	suppressed atomic.Int64
}

func NewMonitor(alertInterval time.Duration, alertBurst int, indexPrefix string) *Monitor {
	return &Monitor{
		Limiter:     rate.NewLimiter(rate.Every(alertInterval), alertBurst),
		IndexPrefix: indexPrefix,
		Index:       elastic_client.IndexRequest,
		Now:         time.Now,
	}
}

type letterDocument struct {
	Letter

	VehicleID string    `json:"vehicle_id"`
	FeedID    string    `json:"feed_id,omitempty"`
	AgencyID  string    `json:"agency_id,omitempty"`
	Observed  time.Time `json:"observed_at"`
}

func (m *Monitor) Handle(_ context.Context, message eventlog.Message) consumer.Result {
	letter, err := FromMessage(message)
	if err != nil {
		log.Warn().Err(err).Str("message", message.String()).Msg("Ignoring malformed dead letter")
		return consumer.Skipped("malformed letter", err)
	}

	m.alert(letter)

	if m.Index != nil && m.IndexPrefix != "" {
		document, err := json.Marshal(letterDocument{
			Letter:    letter,
			VehicleID: string(message.Key),
			FeedID:    message.Header(position.HeaderFeedID),
			AgencyID:  message.Header(position.HeaderAgencyID),
			Observed:  m.Now().UTC(),
		})
		if err != nil {
			return consumer.Skipped("unindexable letter", err)
		}

		m.Index(m.indexName(), bytes.NewReader(document))
	}

	return consumer.Acked()
}

func (m *Monitor) indexName() string {
	yearNumber, weekNumber := m.Now().ISOWeek()
	return fmt.Sprintf("%s-%d-%d", m.IndexPrefix, yearNumber, weekNumber)
}

func (m *Monitor) alert(letter Letter) {
	switch letter.Path {
	case PathSlow:
		log.Error().
			Str("path", string(letter.Path)).
			Str("id", letter.ID).
			Str("vehicleId", string(letter.Message.Key)).
			Str("reason", letter.Reason).
			Str("error", letter.Error).
			Int("attempts", letter.Attempts).
			Time("failedAt", letter.FailedAt).
			Str("action", "check the history store, then run: vehiclefeed dead-letter replay --path slow").
			Msg("History record not persisted")
	default:
		if !m.Limiter.Allow() {
			m.suppressed.Add(1)
			return
		}

		log.Warn().
			Str("path", string(letter.Path)).
			Str("id", letter.ID).
			Str("vehicleId", string(letter.Message.Key)).
			Str("reason", letter.Reason).
			Str("error", letter.Error).
			Int("attempts", letter.Attempts).
			Int64("suppressed", m.suppressed.Swap(0)).
			Msg("Cache update dropped")
	}
}

// Suppressed is the number of fast path alerts held back since the last one logged.
func (m *Monitor) Suppressed() int64 {
	return m.suppressed.Load()
}
