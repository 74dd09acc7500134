package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/eventlog"
	"github.com/travigo/vehiclefeed/pkg/position"
)

// Replay republishes up to limit letters from a dead letter topic onto target,
// committing each one once it is republished. Each replay is tagged with the path
// it failed on so the other path's consumer group skips it. It stops when the
// topic has been idle for idleTimeout. A limit of zero means no limit.
func Replay(ctx context.Context, reader eventlog.Reader, writer eventlog.Writer, target string, limit int, idleTimeout time.Duration) (int, error) {
	replayed := 0

	for limit == 0 || replayed < limit {
		fetchCtx, cancel := context.WithTimeout(ctx, idleTimeout)
		message, err := reader.Fetch(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if errors.Is(err, eventlog.ErrClosed) {
				break
			}
			return replayed, err
		}

		letter, err := FromMessage(message)
		if err != nil {
			log.Warn().Err(err).Str("message", message.String()).Msg("Skipping malformed dead letter")
			if err := reader.Commit(ctx, message); err != nil {
				return replayed, err
			}
			continue
		}

		replay := letter.Original(target)
		replay.Headers[position.HeaderReplayPath] = string(letter.Path)

		if err := writer.Publish(ctx, replay); err != nil {
			return replayed, err
		}
		if err := reader.Commit(ctx, message); err != nil {
			return replayed, err
		}

		log.Info().Str("id", letter.ID).Str("path", string(letter.Path)).Str("reason", letter.Reason).Msg("Replayed dead letter")
		replayed++
	}

	return replayed, nil
}
