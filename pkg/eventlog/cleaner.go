package eventlog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
)

// RunCleaner returns unacked deliveries of dead redis queue consumers to their
// ready lists until ctx is cancelled.
func RunCleaner(ctx context.Context, connection rmq.Connection, interval time.Duration) {
	cleaner := rmq.NewCleaner(connection)

	log.Info().Dur("interval", interval).Msg("Starting event log queue cleaner")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			returned, err := cleaner.Clean()
			if err != nil {
				log.Error().Err(err).Msg("Failed to clean")
				continue
			}

			if returned != 0 {
				log.Info().Msgf("Cleaned %d records", returned)
			}
		}
	}
}

// QueueStatsHandler renders the rmq queue overview page.
type QueueStatsHandler struct {
	connection rmq.Connection
}

func NewQueueStatsHandler(connection rmq.Connection) *QueueStatsHandler {
	return &QueueStatsHandler{connection: connection}
}

func (handler *QueueStatsHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	layout := request.FormValue("layout")
	refresh := request.FormValue("refresh")

	queues, err := handler.connection.GetOpenQueues()
	if err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(writer, err)
		return
	}

	stats, err := handler.connection.CollectStats(queues)
	if err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(writer, err)
		return
	}

	fmt.Fprint(writer, stats.GetHtml(layout, refresh))
}
