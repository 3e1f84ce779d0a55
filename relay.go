package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vinefeed-server/internal/types"
	"vinefeed-server/internal/util"
)

const defaultQueryTimeout = 1500 * time.Millisecond

// RelayClient queries the configured relay set over pooled websocket
// connections. It implements the feed engine's relay capability: each filter
// fans out to every relay, results are deduplicated by event ID and,
// unless the filter carries a server-side sort directive, re-sorted newest
// first with the event ID as tie-break.
type RelayClient struct {
	relays  []string
	pool    *RelayPool
	cache   *EventCache
	timeout time.Duration
}

// NewRelayClient creates a client over the given relay URLs. cache may be
// nil to disable response caching entirely.
func NewRelayClient(relays []string, pool *RelayPool, cache *EventCache) *RelayClient {
	return &RelayClient{
		relays:  relays,
		pool:    pool,
		cache:   cache,
		timeout: defaultQueryTimeout,
	}
}

// QueryEvents runs each filter against the relay set and returns the merged,
// deduplicated results. useCache=false bypasses the response cache, used
// when the relay's own ordering must be fresh and authoritative.
func (c *RelayClient) QueryEvents(ctx context.Context, filters []types.Filter, useCache bool) ([]types.Event, error) {
	var all []types.Event
	seen := make(map[string]bool)

	for _, filter := range filters {
		events, err := c.queryFilter(ctx, filter, useCache)
		if err != nil {
			return nil, err
		}
		for _, evt := range events {
			if !seen[evt.ID] {
				seen[evt.ID] = true
				all = append(all, evt)
			}
		}
	}
	return all, nil
}

func (c *RelayClient) queryFilter(ctx context.Context, filter types.Filter, useCache bool) ([]types.Event, error) {
	cacheable := useCache && c.cache != nil && !filter.HasSearch()

	if cacheable {
		if events, ok := c.cache.Get(c.relays, filter); ok {
			IncrementCacheHit()
			slog.Debug("relay query cache hit", "limit", filter.Limit, "authors", len(filter.Authors))
			return events, nil
		}
		IncrementCacheMiss()
	}

	events, err := c.fetchFromRelays(ctx, filter)
	if err != nil {
		return nil, err
	}

	if cacheable {
		c.cache.Set(c.relays, filter, events)
	}
	return events, nil
}

// fetchFromRelays fans one filter out to every relay concurrently and
// collects events until all relays EOSE, enough events arrive, or the
// timeout fires. Connection failures on individual relays are tolerated; the
// query fails only when no relay could be queried at all.
func (c *RelayClient) fetchFromRelays(ctx context.Context, filter types.Filter) ([]types.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var wg sync.WaitGroup
	var subscribed atomic.Int64
	var lastErr error
	var errMu sync.Mutex
	eventChan := make(chan types.Event, 1000)

	reqFilter := buildReqFilter(filter)

	for _, relay := range c.relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()

			subID := "sub-" + randomSubID()
			sub, err := c.pool.Subscribe(ctx, relayURL, subID, reqFilter)
			if err != nil {
				slog.Debug("relay subscribe failed", "relay", relayURL, "error", err)
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				return
			}
			subscribed.Add(1)
			defer c.pool.Unsubscribe(relayURL, sub)

			for {
				select {
				case evt := <-sub.EventChan:
					select {
					case eventChan <- evt:
					case <-ctx.Done():
						return
					}
				case <-sub.EOSEChan:
					return
				case <-sub.Done:
					return
				case <-ctx.Done():
					return
				}
			}
		}(relay)
	}

	go func() {
		wg.Wait()
		close(eventChan)
	}()

	// Collect and dedupe. Over-collect past the limit so dedup across relays
	// does not starve the result.
	seenIDs := make(map[string]bool)
	events := []types.Event{}
	targetCount := filter.Limit * 2

collectLoop:
	for {
		select {
		case evt, ok := <-eventChan:
			if !ok {
				break collectLoop
			}
			if !seenIDs[evt.ID] {
				seenIDs[evt.ID] = true
				events = append(events, evt)
				if targetCount > 0 && len(events) >= targetCount {
					slog.Debug("got enough events, returning early", "count", len(events))
					cancel()
					break collectLoop
				}
			}
		case <-ctx.Done():
			slog.Debug("relay query timeout", "events", len(events))
			break collectLoop
		}
	}

	if subscribed.Load() == 0 && lastErr != nil {
		return nil, lastErr
	}

	// A search directive means the relay ranked the results server-side;
	// that order is authoritative and must survive untouched.
	if !filter.HasSearch() {
		sort.Slice(events, func(i, j int) bool {
			if events[i].CreatedAt != events[j].CreatedAt {
				return events[i].CreatedAt > events[j].CreatedAt
			}
			return events[i].ID > events[j].ID
		})
	}

	return util.LimitSlice(events, filter.Limit), nil
}

// buildReqFilter translates a typed filter into the NIP-01 REQ wire shape.
func buildReqFilter(filter types.Filter) map[string]interface{} {
	req := map[string]interface{}{}
	if filter.Limit > 0 {
		req["limit"] = filter.Limit
	}
	if len(filter.IDs) > 0 {
		req["ids"] = filter.IDs
	}
	if len(filter.Authors) > 0 {
		req["authors"] = filter.Authors
	}
	if len(filter.Kinds) > 0 {
		req["kinds"] = filter.Kinds
	}
	if len(filter.PTags) > 0 {
		req["#p"] = filter.PTags
	}
	if len(filter.ATags) > 0 {
		req["#a"] = filter.ATags
	}
	if len(filter.DTags) > 0 {
		req["#d"] = filter.DTags
	}
	if len(filter.TTags) > 0 {
		req["#t"] = filter.TTags
	}
	if filter.Search != "" {
		req["search"] = filter.Search
	}
	if filter.Since != nil {
		req["since"] = *filter.Since
	}
	if filter.Until != nil {
		req["until"] = *filter.Until
	}
	return req
}

func randomSubID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
