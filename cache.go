package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"vinefeed-server/internal/cache"
	"vinefeed-server/internal/types"
	"vinefeed-server/internal/util"
)

// EventCache provides in-memory caching for relay query responses.
// This stays in-memory only due to short TTLs and instance-specific queries.
type EventCache struct {
	mu      sync.RWMutex
	entries map[string]*eventCacheEntry
	maxSize int
	ttls    cache.CacheConfig
	stopCh  chan struct{}
}

type eventCacheEntry struct {
	Events    []types.Event
	ExpiresAt time.Time
}

// NewEventCache creates a new cache with the given max size
func NewEventCache(maxSize int) *EventCache {
	c := &EventCache{
		entries: make(map[string]*eventCacheEntry),
		maxSize: maxSize,
		ttls:    cache.DefaultCacheConfig(),
		stopCh:  make(chan struct{}),
	}
	// Start background cleanup
	go c.cleanupLoop()
	return c
}

// Close stops the cleanup goroutine
func (c *EventCache) Close() {
	close(c.stopCh)
}

// buildEventCacheKey creates a deterministic key from query parameters
func buildEventCacheKey(relays []string, filter types.Filter) string {
	sortedRelays := util.SortedCopy(relays)
	sortedAuthors := util.SortedCopy(filter.Authors)
	sortedIDs := util.SortedCopy(filter.IDs)
	sortedPTags := util.SortedCopy(filter.PTags)
	sortedATags := util.SortedCopy(filter.ATags)
	sortedDTags := util.SortedCopy(filter.DTags)
	sortedTTags := util.SortedCopy(filter.TTags)

	sortedKinds := make([]int, len(filter.Kinds))
	copy(sortedKinds, filter.Kinds)
	sort.Ints(sortedKinds)

	var sb strings.Builder
	sb.WriteString("relays:")
	sb.WriteString(strings.Join(sortedRelays, ","))
	sb.WriteString("|ids:")
	sb.WriteString(strings.Join(sortedIDs, ","))
	sb.WriteString("|authors:")
	sb.WriteString(strings.Join(sortedAuthors, ","))
	sb.WriteString("|kinds:")
	for i, k := range sortedKinds {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "%d", k)
	}
	sb.WriteString("|p:")
	sb.WriteString(strings.Join(sortedPTags, ","))
	sb.WriteString("|a:")
	sb.WriteString(strings.Join(sortedATags, ","))
	sb.WriteString("|d:")
	sb.WriteString(strings.Join(sortedDTags, ","))
	sb.WriteString("|t:")
	sb.WriteString(strings.Join(sortedTTags, ","))
	fmt.Fprintf(&sb, "|limit:%d", filter.Limit)
	if filter.Until != nil {
		fmt.Fprintf(&sb, "|until:%d", *filter.Until)
	}
	if filter.Since != nil {
		fmt.Fprintf(&sb, "|since:%d", *filter.Since)
	}

	// Hash the key to keep it short
	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:16])
}

// getEventTTL returns the TTL tier matching the query's shape.
func (c *EventCache) getEventTTL(filter types.Filter) time.Duration {
	if len(filter.IDs) > 0 || len(filter.DTags) > 0 {
		// Direct lookups are immutable or replaceable, cache longest
		return c.ttls.ResponseDirectTTL
	}
	if len(filter.Authors) == 0 {
		// Global firehose - high hit rate
		return c.ttls.ResponseGlobalTTL
	}
	if len(filter.Authors) <= 5 {
		// Small author list (maybe a profile page)
		return c.ttls.ResponseProfileTTL
	}
	// Large author list (follow list) - moderate cache
	return c.ttls.ResponseFollowsTTL
}

// Get retrieves cached events if available and not expired
func (c *EventCache) Get(relays []string, filter types.Filter) ([]types.Event, bool) {
	key := buildEventCacheKey(relays, filter)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.ExpiresAt) {
		return nil, false
	}

	// Return a copy to avoid race conditions
	events := make([]types.Event, len(entry.Events))
	copy(events, entry.Events)
	return events, true
}

// Set stores events in the cache
func (c *EventCache) Set(relays []string, filter types.Filter, events []types.Event) {
	key := buildEventCacheKey(relays, filter)
	ttl := c.getEventTTL(filter)

	// Make a copy of events to store
	eventsCopy := make([]types.Event, len(events))
	copy(eventsCopy, events)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple eviction if at max size: remove oldest entries
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &eventCacheEntry{
		Events:    eventsCopy,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// evictOldest removes the oldest 10% of entries (must hold write lock)
func (c *EventCache) evictOldest() {
	toRemove := c.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}

	type keyExpiry struct {
		key     string
		expires time.Time
	}

	entries := make([]keyExpiry, 0, len(c.entries))
	for k, v := range c.entries {
		entries = append(entries, keyExpiry{k, v.ExpiresAt})
	}

	// Sort by expiration time (oldest first)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expires.Before(entries[j].expires)
	})

	// Remove oldest entries
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(c.entries, entries[i].key)
	}
}

// cleanupLoop periodically removes expired entries
func (c *EventCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes all expired entries
func (c *EventCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}
