package rulecache

import (
	"context"
	"log/slog"
	"time"

	"github.com/merrymaker/scanner/internal/ports"
)

// TieredCache resolves a boolean hit/miss verdict for a (tier, key) pair
// through the three lookup tiers described in §4.5: local LRU, DB cache
// table, then an authoritative callback. A positive or negative result from
// the authoritative tier is written back into both faster tiers so a repeat
// lookup for the same key is amortised O(1).
type TieredCache struct {
	local    *LocalLRU
	db       ports.RuleCacheStore
	localTTL time.Duration
	logger   *slog.Logger
}

// NewTieredCache constructs a TieredCache. db may be nil to run with only a
// local tier (tests, or a deployment with the DB cache table disabled).
func NewTieredCache(local *LocalLRU, db ports.RuleCacheStore, localTTL time.Duration, logger *slog.Logger) *TieredCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredCache{local: local, db: db, localTTL: localTTL, logger: logger}
}

// Lookup returns whether (tier, key) is a hit, consulting the local LRU,
// then the DB cache table, then authoritative on a full miss.
func (c *TieredCache) Lookup(ctx context.Context, tier, key string, authoritative func(context.Context) (bool, error)) (bool, error) {
	localKey := tier + ":" + key

	if c.local != nil {
		if v, ok := c.local.Get(localKey); ok {
			return decodeHit(v), nil
		}
	}

	if c.db != nil {
		hit, found, err := c.db.Lookup(ctx, tier, key)
		if err != nil {
			return false, err
		}
		if found {
			c.setLocal(localKey, hit)
			return hit, nil
		}
	}

	hit, err := authoritative(ctx)
	if err != nil {
		return false, err
	}

	if c.db != nil {
		if err := c.db.Store(ctx, tier, key, hit); err != nil {
			c.logger.WarnContext(ctx, "rule cache store failed, continuing with in-process result",
				"tier", tier, "err", err)
		}
	}
	c.setLocal(localKey, hit)
	return hit, nil
}

func (c *TieredCache) setLocal(localKey string, hit bool) {
	if c.local == nil {
		return
	}
	c.local.Set(localKey, encodeHit(hit), c.localTTL)
}

func encodeHit(hit bool) []byte {
	if hit {
		return []byte{1}
	}
	return []byte{0}
}

func decodeHit(v []byte) bool {
	return len(v) > 0 && v[0] == 1
}
