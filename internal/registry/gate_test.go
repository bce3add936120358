package registry

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prehensile/vidille/internal/domain"
)

func TestGate_PerAddrLimit(t *testing.T) {
	g := NewGate(clockwork.NewFakeClock(), 2, 0, 0)

	require.NoError(t, g.Enter("10.0.0.1"))
	require.NoError(t, g.Enter("10.0.0.1"))
	assert.ErrorIs(t, g.Enter("10.0.0.1"), domain.ErrTooManyFromAddr)

	// other addresses are independent
	require.NoError(t, g.Enter("10.0.0.2"))
	assert.Equal(t, 2, g.UniqueAddrs())

	g.Leave("10.0.0.1")
	assert.Equal(t, 1, g.Count("10.0.0.1"))
	require.NoError(t, g.Enter("10.0.0.1"))
}

func TestGate_LeaveRemovesAddr(t *testing.T) {
	g := NewGate(clockwork.NewFakeClock(), 5, 0, 0)

	require.NoError(t, g.Enter("10.0.0.1"))
	g.Leave("10.0.0.1")

	assert.Equal(t, 0, g.Count("10.0.0.1"))
	assert.Equal(t, 0, g.UniqueAddrs())
}

func TestGate_RateLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGate(clock, 0, 1, 2)

	require.NoError(t, g.Enter("10.0.0.1"))
	require.NoError(t, g.Enter("10.0.0.1"))
	assert.ErrorIs(t, g.Enter("10.0.0.1"), domain.ErrRateLimited)

	// a different address has its own bucket
	require.NoError(t, g.Enter("10.0.0.2"))

	clock.Advance(time.Second)
	assert.NoError(t, g.Enter("10.0.0.1"))
}

func TestGate_RateRejectionHoldsNothing(t *testing.T) {
	g := NewGate(clockwork.NewFakeClock(), 5, 1, 1)

	require.NoError(t, g.Enter("10.0.0.1"))
	require.ErrorIs(t, g.Enter("10.0.0.1"), domain.ErrRateLimited)

	assert.Equal(t, 1, g.Count("10.0.0.1"))
}

func TestGate_CleanupDropsIdleLimiters(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGate(clock, 0, 10, 10)

	require.NoError(t, g.Enter("10.0.0.1"))
	require.NoError(t, g.Enter("10.0.0.2"))
	assert.Equal(t, 2, g.activeLimiters())

	clock.Advance(limiterIdleAfter + cleanupEvery)
	require.NoError(t, g.Enter("10.0.0.3"))

	assert.Equal(t, 1, g.activeLimiters())
}
