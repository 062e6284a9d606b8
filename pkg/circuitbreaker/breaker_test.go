package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{
		MaxRequests:      1,
		Timeout:          timeout,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return errors.New("boom") })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return nil })
}

func TestExecute_PassesThroughWhileClosed(t *testing.T) {
	cb := testBreaker(time.Minute)

	require.NoError(t, succeed(cb))
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := testBreaker(time.Minute)

	for i := 0; i < 3; i++ {
		assert.Error(t, fail(cb))
	}
	assert.Equal(t, StateOpen, cb.State())

	err := succeed(cb)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := testBreaker(time.Minute)

	assert.Error(t, fail(cb))
	assert.Error(t, fail(cb))
	require.NoError(t, succeed(cb))
	assert.Error(t, fail(cb))
	assert.Error(t, fail(cb))

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbesAfterTimeout(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		fail(cb)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Two consecutive successes close the breaker again.
	require.NoError(t, succeed(cb))
	require.NoError(t, succeed(cb))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		fail(cb)
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	assert.Error(t, fail(cb))
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecute_CanceledContext(t *testing.T) {
	cb := testBreaker(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
}
