package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// SignalContext is cancelled on the first SIGINT or SIGTERM. A second signal
// exits hard in case shutdown gets stuck.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-signals:
			log.Info().Msg("Shutting down")
			cancel()
		case <-ctx.Done():
			signal.Stop(signals)
			return
		}

		<-signals
		os.Exit(1)
	}()

	return ctx, cancel
}
