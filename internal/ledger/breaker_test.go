package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient fails or succeeds on command; only Phase is exercised, the
// breaker treats every method identically.
type stubClient struct {
	Client
	err   error
	calls int
}

func (s *stubClient) Phase(ctx context.Context) (Phase, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return PhaseVoting, nil
}

func TestBreaker_InitialState(t *testing.T) {
	b := NewBreaker(&stubClient{})
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	stub := &stubClient{err: NewError("getPhase", "rpc failure", true, nil)}
	b := NewBreaker(stub, WithFailureThreshold(3))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Phase(ctx)
		require.Error(t, err)
		assert.Equal(t, BreakerClosed, b.State())
	}

	_, err := b.Phase(ctx)
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())

	// Open circuit rejects locally without touching the client.
	before := stub.calls
	_, err = b.Phase(ctx)
	require.Error(t, err)
	var le *Error
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Retryable)
	assert.Equal(t, before, stub.calls)
}

func TestBreaker_ProbesAfterCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &stubClient{err: NewError("getPhase", "rpc failure", true, nil)}
	b := NewBreaker(stub,
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithCooldown(30*time.Second),
		WithBreakerClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := b.Phase(ctx)
	require.Error(t, err)
	require.Equal(t, BreakerOpen, b.State())

	// Before the cooldown nothing reaches the client.
	before := stub.calls
	_, _ = b.Phase(ctx)
	assert.Equal(t, before, stub.calls)

	// After the cooldown the endpoint has recovered; two successes close.
	now = now.Add(31 * time.Second)
	stub.err = nil

	_, err = b.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, BreakerHalfOpen, b.State())

	_, err = b.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &stubClient{err: NewError("getPhase", "rpc failure", true, nil)}
	b := NewBreaker(stub,
		WithFailureThreshold(1),
		WithCooldown(time.Second),
		WithBreakerClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _ = b.Phase(ctx)
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(2 * time.Second)
	_, err := b.Phase(ctx)
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_RevertsDoNotTrip(t *testing.T) {
	stub := &stubClient{err: NewError("getPhase", ReasonWrongPhase, false, nil)}
	b := NewBreaker(stub, WithFailureThreshold(1))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Phase(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	failure := NewError("getPhase", "rpc failure", true, errors.New("dial tcp"))
	stub := &stubClient{err: failure}
	b := NewBreaker(stub, WithFailureThreshold(3))
	ctx := context.Background()

	_, _ = b.Phase(ctx)
	_, _ = b.Phase(ctx)

	stub.err = nil
	_, err := b.Phase(ctx)
	require.NoError(t, err)

	stub.err = failure
	_, _ = b.Phase(ctx)
	_, _ = b.Phase(ctx)
	assert.Equal(t, BreakerClosed, b.State())

	_, _ = b.Phase(ctx)
	assert.Equal(t, BreakerOpen, b.State())
}
