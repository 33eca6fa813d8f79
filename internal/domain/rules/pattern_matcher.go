package rules

import (
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// PatternMatcher matches a candidate host against allow-list entries (§3).
// The allow-list stores entries case-insensitively; Match lower-cases both
// sides before comparing.
type PatternMatcher struct{}

// NewPatternMatcher constructs a PatternMatcher.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{}
}

// Match reports whether host satisfies pattern under patternType. Unknown
// pattern types fall back to an exact match.
func (m *PatternMatcher) Match(host, pattern string, patternType model.PatternType) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if host == "" || pattern == "" {
		return false
	}

	switch patternType {
	case model.PatternTypeWildcard:
		return m.matchWildcard(host, pattern)
	case model.PatternTypeETLDPlusOne:
		return m.matchETLDPlusOne(host, pattern)
	default:
		return host == pattern
	}
}

// matchWildcard matches "*.example.com" patterns: host must equal the base
// domain or be a proper subdomain of it.
func (m *PatternMatcher) matchWildcard(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	base := pattern[2:]
	if base == "" || !strings.HasSuffix(host, base) {
		return false
	}
	if len(host) == len(base) {
		return true
	}
	return host[len(host)-len(base)-1] == '.'
}

// matchETLDPlusOne matches when host and pattern share the same effective
// top-level-domain-plus-one, so an entry for "example.com" also allow-lists
// "a.example.com" and "b.a.example.com".
func (m *PatternMatcher) matchETLDPlusOne(host, pattern string) bool {
	if host == pattern {
		return true
	}
	hostETLD := effectiveTLDPlusOne(host)
	patternETLD := effectiveTLDPlusOne(pattern)
	return hostETLD != "" && hostETLD == patternETLD
}

func effectiveTLDPlusOne(host string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return etld1
}

// MatchAny reports whether host satisfies any enabled entry.
func (m *PatternMatcher) MatchAny(host string, entries []model.AllowListEntry) bool {
	for i := range entries {
		e := &entries[i]
		if !e.Enabled {
			continue
		}
		if m.Match(host, e.Key, e.PatternType) {
			return true
		}
	}
	return false
}
