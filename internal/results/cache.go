package results

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"ballotgate/internal/ledger"
)

// TallyCache caches the ledger tally between refreshes. The tally is the
// hottest read in the system and the only one that always crosses to the
// ledger, so results pages are served from here within the TTL.
type TallyCache interface {
	Get(ctx context.Context) ([]ledger.TallyEntry, bool)
	Set(ctx context.Context, entries []ledger.TallyEntry)
}

const tallyKey = "tally"

// LocalCache is the in-process TTL cache used when Redis is not configured.
type LocalCache struct {
	cache *gocache.Cache
}

func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{cache: gocache.New(ttl, 2*ttl)}
}

func (c *LocalCache) Get(_ context.Context) ([]ledger.TallyEntry, bool) {
	v, ok := c.cache.Get(tallyKey)
	if !ok {
		return nil, false
	}
	entries, ok := v.([]ledger.TallyEntry)
	return entries, ok
}

func (c *LocalCache) Set(_ context.Context, entries []ledger.TallyEntry) {
	c.cache.SetDefault(tallyKey, entries)
}

// RedisCache shares the tally across replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) ([]ledger.TallyEntry, bool) {
	raw, err := c.client.Get(ctx, "ballotgate:"+tallyKey).Bytes()
	if err != nil {
		return nil, false
	}
	var entries []ledger.TallyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (c *RedisCache) Set(ctx context.Context, entries []ledger.TallyEntry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	// Best effort: a failed write only costs a ledger round-trip later.
	c.client.Set(ctx, "ballotgate:"+tallyKey, raw, c.ttl)
}
