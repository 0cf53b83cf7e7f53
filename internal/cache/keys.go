// Package cache builds namespaced Redis keys and config-driven TTL buckets
// for the boundary layer's read-through caches.
package cache

import (
	"strings"
	"time"
)

// Namespace is the Redis key prefix for this application.
const Namespace = "predex"

// TTLClass is a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalizes config TTLs (seconds) into durations.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts CacheTTL-shaped seconds into a TTLSet.
func NewTTLSet(shortSec, mediumSec, longSec int) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(shortSec, 10*time.Second),
		Medium: durationOrDefault(mediumSec, time.Minute),
		Long:   durationOrDefault(longSec, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// MarketListKey caches list_markets' per-market current-price snapshot.
// Advisory only (spec §5 "shared resources"): reconciled against the
// database on every subsequent trade transaction, never read inside one.
func MarketListKey() string {
	return formatKey("markets", "list")
}

// MarketListTTL is short: prices move on every trade, so the cache's only
// job is to absorb bursts of listing reads, not to be durably correct.
func MarketListTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// PortfolioKey caches one user's mark-to-market snapshot.
func PortfolioKey(username string) string {
	return formatKey("portfolio", username)
}

// PortfolioTTL mirrors MarketListTTL for the same reason.
func PortfolioTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}
