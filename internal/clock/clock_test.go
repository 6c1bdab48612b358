package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var fired []string
	c.AfterFunc(2*time.Minute, func() { fired = append(fired, "second") })
	c.AfterFunc(time.Minute, func() { fired = append(fired, "first") })
	c.AfterFunc(time.Hour, func() { fired = append(fired, "later") })

	c.Advance(90 * time.Second)
	require.Equal(t, []string{"first"}, fired)

	c.Advance(time.Minute)
	require.Equal(t, []string{"first", "second"}, fired)
	require.Equal(t, 1, c.Pending())
	require.Equal(t, start.Add(150*time.Second), c.Now())
}

func TestManualStopPreventsFiring(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	c.Advance(time.Minute)
	require.False(t, called)
	require.Zero(t, c.Pending())
}

func TestManualFiresOnlyOnce(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	count := 0
	timer := c.AfterFunc(time.Second, func() { count++ })

	c.Advance(time.Second)
	c.Advance(time.Second)
	require.Equal(t, 1, count)
	require.False(t, timer.Stop())
}

func TestManualNonPositiveDelayRunsAsync(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	done := make(chan struct{})
	c.AfterFunc(0, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-delay timer did not fire")
	}
}
