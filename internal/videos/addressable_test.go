package videos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"vinefeed-server/internal/nostr"
	"vinefeed-server/internal/types"
)

// countingRelay resolves addressable filter specs from a canned event map
// and counts queries, safe for the concurrent batch goroutines.
type countingRelay struct {
	mu      sync.Mutex
	queries int
	events  map[string]types.Event // keyed by "kind:pubkey:dtag"
}

func (c *countingRelay) QueryEvents(_ context.Context, filters []types.Filter, _ bool) ([]types.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++

	var out []types.Event
	for _, f := range filters {
		if len(f.Kinds) != 1 || len(f.Authors) != 1 || len(f.DTags) != 1 {
			return nil, errors.New("addressable filter must carry exactly one kind, author and d-tag")
		}
		key := fmt.Sprintf("%d:%s:%s", f.Kinds[0], f.Authors[0], f.DTags[0])
		if evt, ok := c.events[key]; ok {
			out = append(out, evt)
		}
	}
	return out, nil
}

func addressableEvent(id, pubkey, dTag string, createdAt int64) types.Event {
	return types.Event{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      nostr.KindAddressableShortVideo,
		Tags: [][]string{
			{"url", "https://cdn.example/" + id + ".mp4"},
			{"d", dTag},
		},
	}
}

func coord(pubkey, dTag string) string {
	return fmt.Sprintf("%d:%s:%s", nostr.KindAddressableShortVideo, pubkey, dTag)
}

func TestAddressableBatchBoundary(t *testing.T) {
	relay := &countingRelay{events: map[string]types.Event{}}
	ids := make([]string, 41)
	for i := range ids {
		dTag := fmt.Sprintf("clip-%d", i)
		ids[i] = coord("author", dTag)
		relay.events[ids[i]] = addressableEvent(fmt.Sprintf("evt-%d", i), "author", dTag, int64(i))
	}

	videos, err := NewRepository(relay).GetVideosByAddressableIDs(context.Background(), ids)
	if err != nil {
		t.Fatalf("GetVideosByAddressableIDs: %v", err)
	}
	if relay.queries != 3 {
		t.Errorf("relay queries = %d, want 3 (batches of 20, 20, 1)", relay.queries)
	}
	if len(videos) != 41 {
		t.Fatalf("got %d videos, want 41", len(videos))
	}
	// Output preserves input order regardless of batch completion order.
	for i, v := range videos {
		if want := fmt.Sprintf("clip-%d", i); v.VineID != want {
			t.Fatalf("videos[%d].VineID = %q, want %q", i, v.VineID, want)
		}
	}
}

func TestAddressableDropsMalformedAndNonVideo(t *testing.T) {
	relay := &countingRelay{events: map[string]types.Event{
		coord("u1", "d1"): addressableEvent("e1", "u1", "d1", 100),
	}}

	videos, err := NewRepository(relay).GetVideosByAddressableIDs(context.Background(), []string{
		"not-a-coordinate",
		"abc:u1:d1",   // non-numeric kind
		"30023:u1:d1", // not a video kind
		coord("u1", "d1"),
	})
	if err != nil {
		t.Fatalf("GetVideosByAddressableIDs: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "e1" {
		t.Fatalf("videos = %v, want just e1", videoIDs(videos))
	}
	if relay.queries != 1 {
		t.Errorf("relay queries = %d, want 1", relay.queries)
	}
}

func TestAddressableNewestVersionWins(t *testing.T) {
	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		// Two versions of the same replaceable coordinate.
		return []types.Event{
			addressableEvent("stale", "u1", "d1", 100),
			addressableEvent("fresh", "u1", "d1", 200),
		}, nil
	}}

	videos, err := NewRepository(relay).GetVideosByAddressableIDs(context.Background(), []string{coord("u1", "d1")})
	if err != nil {
		t.Fatalf("GetVideosByAddressableIDs: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "fresh" {
		t.Fatalf("videos = %v, want [fresh]", videoIDs(videos))
	}
}

func TestAddressableDTagWithColons(t *testing.T) {
	dTag := "archive:2015:07"
	relay := &countingRelay{events: map[string]types.Event{
		coord("u1", dTag): addressableEvent("e1", "u1", dTag, 100),
	}}

	videos, err := NewRepository(relay).GetVideosByAddressableIDs(context.Background(), []string{coord("u1", dTag)})
	if err != nil {
		t.Fatalf("GetVideosByAddressableIDs: %v", err)
	}
	if len(videos) != 1 || videos[0].VineID != dTag {
		t.Fatalf("videos = %v, want the colon d-tag entry", videoIDs(videos))
	}
}

func TestAddressableFunnelcakeFallback(t *testing.T) {
	relay := &countingRelay{events: map[string]types.Event{}}
	fc := &fakeFunnelcake{
		available: true,
		byAuthor: func(pubkey string, limit int, before int64) ([]*types.VideoStats, error) {
			if pubkey != "pubkey1" {
				return nil, nil
			}
			if limit != 100 {
				return nil, fmt.Errorf("limit = %d, want 100", limit)
			}
			stat := statsRecord("fallback1", "pubkey1", 400)
			stat.Kind = nostr.KindAddressableShortVideo
			stat.DTag = "d1"
			return []*types.VideoStats{stat}, nil
		},
	}

	repo := NewRepository(relay, WithFunnelcake(fc))
	videos, err := repo.GetVideosByAddressableIDs(context.Background(), []string{coord("pubkey1", "d1")})
	if err != nil {
		t.Fatalf("GetVideosByAddressableIDs: %v", err)
	}
	if len(videos) != 1 {
		t.Fatalf("videos = %v, want one fallback result", videoIDs(videos))
	}
	if videos[0].VineID != "d1" {
		t.Errorf("VineID = %q, want d1", videos[0].VineID)
	}
}

func TestAddressableFallbackSwallowsPerAuthorErrors(t *testing.T) {
	relay := &countingRelay{events: map[string]types.Event{}}
	fc := &fakeFunnelcake{
		available: true,
		byAuthor: func(pubkey string, limit int, before int64) ([]*types.VideoStats, error) {
			if pubkey == "broken" {
				return nil, errors.New("author shard down")
			}
			stat := statsRecord("ok1", "healthy", 400)
			stat.Kind = nostr.KindAddressableShortVideo
			stat.DTag = "d1"
			return []*types.VideoStats{stat}, nil
		},
	}

	repo := NewRepository(relay, WithFunnelcake(fc))
	videos, err := repo.GetVideosByAddressableIDs(context.Background(), []string{
		coord("broken", "d1"),
		coord("healthy", "d1"),
	})
	if err != nil {
		t.Fatalf("GetVideosByAddressableIDs: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "ok1" {
		t.Fatalf("videos = %v, want [ok1] with the broken author omitted", videoIDs(videos))
	}
	if fc.byAuthorCalls != 2 {
		t.Errorf("by-author calls = %d, want 2 (one per distinct author)", fc.byAuthorCalls)
	}
}

func TestAddressableGroupsFallbackByAuthor(t *testing.T) {
	relay := &countingRelay{events: map[string]types.Event{}}
	fc := &fakeFunnelcake{
		available: true,
		byAuthor: func(pubkey string, limit int, before int64) ([]*types.VideoStats, error) {
			var out []*types.VideoStats
			for i, dTag := range []string{"d1", "d2"} {
				stat := statsRecord(fmt.Sprintf("%s-%s", pubkey, dTag), pubkey, int64(100+i))
				stat.Kind = nostr.KindAddressableShortVideo
				stat.DTag = dTag
				out = append(out, stat)
			}
			return out, nil
		},
	}

	repo := NewRepository(relay, WithFunnelcake(fc))
	videos, err := repo.GetVideosByAddressableIDs(context.Background(), []string{
		coord("u1", "d1"),
		coord("u1", "d2"),
		coord("u2", "d1"),
	})
	if err != nil {
		t.Fatalf("GetVideosByAddressableIDs: %v", err)
	}
	if len(videos) != 3 {
		t.Fatalf("got %d videos, want 3", len(videos))
	}
	if fc.byAuthorCalls != 2 {
		t.Errorf("by-author calls = %d, want 2 (grouped per author)", fc.byAuthorCalls)
	}
}
