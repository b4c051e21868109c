package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostGate_FirstAcquireIsImmediate(t *testing.T) {
	g := NewHostGate(1, time.Second)

	start := time.Now()
	require.NoError(t, g.Acquire(context.Background(), "example.com"))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestHostGate_SecondAcquireExceedingMaxWaitFails(t *testing.T) {
	// 1 req/s with a burst of 1: the second slot is a full second away,
	// far beyond the 20ms budget.
	g := NewHostGate(1, 20*time.Millisecond)

	require.NoError(t, g.Acquire(context.Background(), "example.com"))
	err := g.Acquire(context.Background(), "example.com")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestHostGate_HostsAreIndependent(t *testing.T) {
	g := NewHostGate(1, 20*time.Millisecond)

	require.NoError(t, g.Acquire(context.Background(), "a.example.com"))
	require.NoError(t, g.Acquire(context.Background(), "b.example.com"))
}

func TestHostGate_CallerCancellationWinsOverRateError(t *testing.T) {
	g := NewHostGate(1, time.Minute)
	require.NoError(t, g.Acquire(context.Background(), "example.com"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Acquire(ctx, "example.com")
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not return after cancellation")
	}
}

func TestHostGate_RefillAllowsLaterAcquire(t *testing.T) {
	// 50 req/s refills a slot every 20ms, well inside the wait budget.
	g := NewHostGate(50, time.Second)

	require.NoError(t, g.Acquire(context.Background(), "example.com"))
	require.NoError(t, g.Acquire(context.Background(), "example.com"))
}
