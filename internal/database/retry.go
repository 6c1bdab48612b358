package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const connectAttempts = 5

var connectBackoff = time.Second

// pingWithRetry pings until it succeeds, doubling the wait between attempts.
// Postgres and Redis often come up after the server in compose setups.
func pingWithRetry(ctx context.Context, name string, timeout time.Duration, ping func(context.Context) error, log zerolog.Logger) error {
	wait := connectBackoff
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		log.Warn().Err(err).Str("target", name).Int("attempt", attempt).Dur("retry_in", wait).Msg("Connection not ready")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("ping %s after %d attempts: %w", name, connectAttempts, err)
}
