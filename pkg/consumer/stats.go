package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type Stats struct {
	Fetched        atomic.Int64
	Processed      atomic.Int64
	Acked          atomic.Int64
	Skipped        atomic.Int64
	Retried        atomic.Int64
	DeadLettered   atomic.Int64
	CommitFailures atomic.Int64
}

func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"fetched":         s.Fetched.Load(),
		"processed":       s.Processed.Load(),
		"acked":           s.Acked.Load(),
		"skipped":         s.Skipped.Load(),
		"retried":         s.Retried.Load(),
		"dead_lettered":   s.DeadLettered.Load(),
		"commit_failures": s.CommitFailures.Load(),
	}
}

type StatsServerHandler struct {
	name  string
	stats *Stats
}

func NewStatsHandler(name string, stats *Stats) *StatsServerHandler {
	return &StatsServerHandler{name: name, stats: stats}
}

func (handler *StatsServerHandler) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")

	json.NewEncoder(writer).Encode(map[string]any{
		"consumer": handler.name,
		"counters": handler.stats.Snapshot(),
	})
}

// HealthCheck checks one dependency, eg. a cache or database ping.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (handler *HealthHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), 5*time.Second)
	defer cancel()

	for name, check := range handler.checks {
		if err := check(ctx); err != nil {
			writer.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(writer, "%s: %s", name, err)

			return
		}
	}

	writer.WriteHeader(http.StatusOK)
	fmt.Fprint(writer, "OK")
}

// StartStatsServer serves /<name>/stats and /health in the background.
func StartStatsServer(address string, name string, stats *Stats, checks map[string]HealthCheck) *http.Server {
	return StartMultiStatsServer(address, map[string]*Stats{name: stats}, checks)
}

// StartMultiStatsServer is StartStatsServer for processes running several consumers.
func StartMultiStatsServer(address string, consumers map[string]*Stats, checks map[string]HealthCheck) *http.Server {
	mux := http.NewServeMux()
	for name, stats := range consumers {
		endpoint := fmt.Sprintf("/%s/stats", name)
		mux.Handle(endpoint, NewStatsHandler(name, stats))

		log.Info().Msgf("Stats server listening on http://localhost%s%s", address, endpoint)
	}
	mux.Handle("/health", NewHealthHandler(checks))
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Stats server failed")
		}
	}()

	return server
}
