package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPingWithRetryRecovers(t *testing.T) {
	connectBackoff = time.Millisecond
	t.Cleanup(func() { connectBackoff = time.Second })

	calls := 0
	err := pingWithRetry(context.Background(), "test", time.Second, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPingWithRetryGivesUp(t *testing.T) {
	connectBackoff = time.Millisecond
	t.Cleanup(func() { connectBackoff = time.Second })

	down := errors.New("connection refused")
	calls := 0
	err := pingWithRetry(context.Background(), "test", time.Second, func(context.Context) error {
		calls++
		return down
	}, zerolog.Nop())
	require.ErrorIs(t, err, down)
	require.Equal(t, connectAttempts, calls)
}

func TestPingWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pingWithRetry(ctx, "test", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	}, zerolog.Nop())
	require.ErrorIs(t, err, context.Canceled)
}
