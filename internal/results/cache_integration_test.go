//go:build integration

package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotgate/internal/ledger"
	"ballotgate/pkg/testutil/containers"
)

// The Redis cache is the shared-tally variant; its round-trip and expiry
// behavior runs against a real Redis instance.
func TestRedisCache_Integration(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	defer rc.Terminate(context.Background())

	ctx := context.Background()
	cache := NewRedisCache(rc.Client, 2*time.Second)

	_, ok := cache.Get(ctx)
	assert.False(t, ok, "empty cache must miss")

	entries := []ledger.TallyEntry{
		{LedgerID: 1, Name: "Ada Quorum", Party: "Unity", VoteCount: 3, Verified: true},
		{LedgerID: 2, Name: "Bo Ledger", Party: "Forward", VoteCount: 1, Verified: true},
	}
	cache.Set(ctx, entries)

	got, ok := cache.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, entries, got)

	// A second process sharing the Redis instance sees the same tally.
	other := NewRedisCache(rc.Client, 2*time.Second)
	got, ok = other.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, entries, got)

	require.NoError(t, rc.FlushAll(ctx))
	_, ok = cache.Get(ctx)
	assert.False(t, ok, "flushed cache must miss")
}
