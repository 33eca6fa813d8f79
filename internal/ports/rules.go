// Package ports also defines the hexagonal boundary for the Rule Engine's
// layered cache (§4.5): Tier 3 authoritative lookups and the Tier 2 DB
// cache table, both kept independent of the engine's pure rule logic.
package ports

import (
	"context"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// IOCStore is the Tier 3 authoritative source for indicator-of-compromise
// lookups (§3, §4.5).
type IOCStore interface {
	// LookupHost reports whether host matches an enabled IOC of type fqdn or
	// ip, returning the matching row or nil.
	LookupHost(ctx context.Context, host string) (*model.IOC, error)

	// ListEnabledByType returns all enabled IOCs of the given type, used to
	// refresh a rule's in-process working set (e.g. the payload matcher's
	// compiled patterns) rather than for per-event lookups.
	ListEnabledByType(ctx context.Context, t model.IOCType) ([]model.IOC, error)
}

// AllowListStore is the Tier 3 authoritative source for allow-list
// membership, which suppresses an otherwise-alerting match (§3, §4.5).
type AllowListStore interface {
	IsAllowed(ctx context.Context, t model.IOCType, key string) (bool, error)
}

// RuleCacheStore is the Tier 2 DB cache table consulted on a Tier 1 (local
// LRU) miss and populated on a Tier 3 round-trip (§4.5).
type RuleCacheStore interface {
	// Lookup reports the cached hit/miss verdict for (tier, key). found is
	// false when the table holds no entry, distinct from hit=false meaning a
	// cached negative result.
	Lookup(ctx context.Context, tier, key string) (hit bool, found bool, err error)
	Store(ctx context.Context, tier, key string, hit bool) error
}

// SeenStringStore records previously-alerted (rule, key) pairs so the
// seen-string rule can suppress duplicate alerts within a retention window
// (§3, §4.5).
type SeenStringStore interface {
	Exists(ctx context.Context, ruleType, key string) (bool, error)
	Record(ctx context.Context, ruleType, key string) error
}

// SeenStringMaintenance trims seen-string rows past their retention window
// (the seen-string-purge task, §4.1's task registry).
type SeenStringMaintenance interface {
	PurgeOlderThan(ctx context.Context, olderThan time.Duration, batch int) (int64, error)
}
