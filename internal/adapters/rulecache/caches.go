package rulecache

import (
	"context"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
	"github.com/merrymaker/scanner/internal/ports"
)

// IOCCache adapts the Tier 2/3 IOC lookup into the `rules:tier:"ioc"`
// namespace of the shared DB cache table (§4.5). It implements the
// rules.IOCLookup collaborator interface.
type IOCCache struct {
	tiered *TieredCache
	store  ports.IOCStore
}

// NewIOCCache constructs an IOCCache.
func NewIOCCache(tiered *TieredCache, store ports.IOCStore) *IOCCache {
	return &IOCCache{tiered: tiered, store: store}
}

// LookupHost reports whether host matches a known IOC, short-circuiting
// through the local and DB cache tiers before touching the iocs table.
func (c *IOCCache) LookupHost(ctx context.Context, host string) (bool, error) {
	return c.tiered.Lookup(ctx, "ioc", host, func(ctx context.Context) (bool, error) {
		ioc, err := c.store.LookupHost(ctx, host)
		if err != nil {
			return false, err
		}
		return ioc != nil, nil
	})
}

// AllowListCache adapts the Tier 2/3 allow-list lookup into the
// `rules:tier:"allow_list"` namespace of the shared DB cache table (§4.5).
// It implements the rules.AllowListCheck collaborator interface.
type AllowListCache struct {
	tiered *TieredCache
	store  ports.AllowListStore
}

// NewAllowListCache constructs an AllowListCache.
func NewAllowListCache(tiered *TieredCache, store ports.AllowListStore) *AllowListCache {
	return &AllowListCache{tiered: tiered, store: store}
}

// IsAllowed reports whether (t, key) is allow-listed.
func (c *AllowListCache) IsAllowed(ctx context.Context, t model.IOCType, key string) (bool, error) {
	cacheKey := string(t) + ":" + key
	return c.tiered.Lookup(ctx, "allow_list", cacheKey, func(ctx context.Context) (bool, error) {
		return c.store.IsAllowed(ctx, t, key)
	})
}

// SeenStringCache fronts ports.SeenStringStore with a local LRU tier. The
// seen_strings table already doubles as both the DB cache and the
// authoritative record (§4.5), so this is two-tier rather than three: the
// local LRU tier still turns a repeated duplicate-alert check for a hot
// (rule, key) pair into an in-process hit.
type SeenStringCache struct {
	local *LocalLRU
	store ports.SeenStringStore
	ttl   time.Duration
}

// NewSeenStringCache constructs a SeenStringCache. ttl bounds how long a
// local-tier verdict is trusted before re-checking the authoritative table;
// it does not affect the table's own retention window (§4.5, §9).
func NewSeenStringCache(local *LocalLRU, store ports.SeenStringStore, ttl time.Duration) *SeenStringCache {
	return &SeenStringCache{local: local, store: store, ttl: ttl}
}

// Exists reports whether (ruleType, key) has already been recorded as seen.
func (c *SeenStringCache) Exists(ctx context.Context, ruleType, key string) (bool, error) {
	localKey := "seen_string:" + ruleType + ":" + key
	if c.local != nil {
		if v, ok := c.local.Get(localKey); ok {
			return decodeHit(v), nil
		}
	}
	seen, err := c.store.Exists(ctx, ruleType, key)
	if err != nil {
		return false, err
	}
	if c.local != nil {
		c.local.Set(localKey, encodeHit(seen), c.ttl)
	}
	return seen, nil
}

// Record marks (ruleType, key) as seen, refreshing its retention window.
func (c *SeenStringCache) Record(ctx context.Context, ruleType, key string) error {
	if err := c.store.Record(ctx, ruleType, key); err != nil {
		return err
	}
	if c.local != nil {
		localKey := "seen_string:" + ruleType + ":" + key
		c.local.Set(localKey, encodeHit(true), c.ttl)
	}
	return nil
}
