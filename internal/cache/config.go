package cache

import "time"

// CacheConfig holds cache TTL configuration.
type CacheConfig struct {
	// EventTTL bounds how long individual events live in the event store.
	// Events are immutable so this is generous; the store exists to spare
	// relay round-trips for by-id lookups, not to be authoritative.
	EventTTL time.Duration

	// Response TTL tiers, keyed by query shape.
	ResponseDirectTTL  time.Duration // by-id and by-d-tag lookups
	ResponseGlobalTTL  time.Duration // no-author queries (global firehose)
	ResponseProfileTTL time.Duration // small author sets (profile pages)
	ResponseFollowsTTL time.Duration // large author sets (follow lists)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		EventTTL:           24 * time.Hour,
		ResponseDirectTTL:  120 * time.Second, // immutable or replaceable targets
		ResponseGlobalTTL:  60 * time.Second,  // global feeds have high hit rates
		ResponseProfileTTL: 45 * time.Second,
		ResponseFollowsTTL: 30 * time.Second,
	}
}
