package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/errors"
)

func testBreaker(cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         cooldown,
	}, nil)
}

func failing() error {
	return errors.New(errors.ErrorTypeConnection, "refused")
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := testBreaker(time.Minute)

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(failing))
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit fails fast without calling fn
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransient))
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := testBreaker(time.Minute)

	assert.Error(t, cb.Execute(failing))
	assert.Error(t, cb.Execute(failing))
	require.NoError(t, cb.Execute(func() error { return nil }))

	// Two more failures stay under the threshold after the reset
	assert.Error(t, cb.Execute(failing))
	assert.Error(t, cb.Execute(failing))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := testBreaker(time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(failing))
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	// First probe succeeds and moves the breaker to half-open
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	// Second success closes it
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(failing))
	}
	time.Sleep(5 * time.Millisecond)

	assert.Error(t, cb.Execute(failing))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
