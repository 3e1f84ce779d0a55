package videos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"vinefeed-server/internal/nostr"
	"vinefeed-server/internal/types"
)

// fakeRelay answers queries via an injectable function and records every
// call so tests can assert on query counts and shapes.
type fakeRelay struct {
	respond func(filters []types.Filter, useCache bool) ([]types.Event, error)
	calls   [][]types.Filter
	cached  []bool
}

func (f *fakeRelay) QueryEvents(_ context.Context, filters []types.Filter, useCache bool) ([]types.Event, error) {
	f.calls = append(f.calls, filters)
	f.cached = append(f.cached, useCache)
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(filters, useCache)
}

// fakeFunnelcake implements FunnelcakeClient with per-method hooks.
// Unhooked methods return empty.
type fakeFunnelcake struct {
	available bool
	recent    func(limit int, before int64) ([]*types.VideoStats, error)
	homeFeed  func(authors []string, limit int, before int64) ([]*types.VideoStats, error)
	trending  func(limit int, before int64) ([]*types.VideoStats, error)
	byAuthor  func(pubkey string, limit int, before int64) ([]*types.VideoStats, error)
	search    func(query string, limit int, before int64) ([]*types.VideoStats, error)

	trendingCalls int
	byAuthorCalls int
}

func (f *fakeFunnelcake) IsAvailable() bool { return f.available }

func (f *fakeFunnelcake) GetRecentVideos(_ context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	if f.recent != nil {
		return f.recent(limit, before)
	}
	return nil, nil
}

func (f *fakeFunnelcake) GetHomeFeed(_ context.Context, authors []string, limit int, before int64) ([]*types.VideoStats, error) {
	if f.homeFeed != nil {
		return f.homeFeed(authors, limit, before)
	}
	return nil, nil
}

func (f *fakeFunnelcake) GetTrendingVideos(_ context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	f.trendingCalls++
	if f.trending != nil {
		return f.trending(limit, before)
	}
	return nil, nil
}

func (f *fakeFunnelcake) GetCollabVideos(_ context.Context, pubkey string, limit int, before int64) ([]*types.VideoStats, error) {
	return nil, nil
}

func (f *fakeFunnelcake) GetVideosByAuthor(_ context.Context, pubkey string, limit int, before int64) ([]*types.VideoStats, error) {
	f.byAuthorCalls++
	if f.byAuthor != nil {
		return f.byAuthor(pubkey, limit, before)
	}
	return nil, nil
}

func (f *fakeFunnelcake) GetVideosByLoops(_ context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	return nil, nil
}

func (f *fakeFunnelcake) GetVideosByHashtag(_ context.Context, hashtag string, limit int, before int64) ([]*types.VideoStats, error) {
	return nil, nil
}

func (f *fakeFunnelcake) GetClassicVideosByHashtag(_ context.Context, hashtag string, limit int, before int64) ([]*types.VideoStats, error) {
	return nil, nil
}

func (f *fakeFunnelcake) SearchVideos(_ context.Context, query string, limit int, before int64) ([]*types.VideoStats, error) {
	if f.search != nil {
		return f.search(query, limit, before)
	}
	return nil, nil
}

func (f *fakeFunnelcake) GetClassicVines(_ context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	return nil, nil
}

func (f *fakeFunnelcake) GetRecommendations(_ context.Context, pubkey string, limit int) ([]*types.VideoStats, error) {
	return nil, nil
}

func (f *fakeFunnelcake) GetVideoStats(_ context.Context, eventID string) (*types.VideoStats, error) {
	return nil, nil
}

func (f *fakeFunnelcake) GetVideoViews(_ context.Context, eventID string) (int64, error) {
	return 0, nil
}

func (f *fakeFunnelcake) GetBulkVideoStats(_ context.Context, eventIDs []string) ([]*types.VideoStats, error) {
	return nil, nil
}

// fakeStore is an in-memory EventStore.
type fakeStore struct {
	events map[string]types.Event
	saved  []types.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]types.Event{}}
}

func (f *fakeStore) GetEventsByIDs(_ context.Context, ids []string) ([]types.Event, error) {
	var out []types.Event
	for _, id := range ids {
		if evt, ok := f.events[id]; ok {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveEventsBatch(_ context.Context, events []types.Event) error {
	f.saved = append(f.saved, events...)
	for _, evt := range events {
		f.events[evt.ID] = evt
	}
	return nil
}

func videoEvent(id, pubkey string, createdAt int64, tags ...[]string) types.Event {
	allTags := [][]string{{"url", "https://cdn.example/" + id + ".mp4"}}
	allTags = append(allTags, tags...)
	return types.Event{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      nostr.KindShortVideo,
		Tags:      allTags,
	}
}

func statsRecord(id, pubkey string, createdAt int64) *types.VideoStats {
	return &types.VideoStats{
		EventID:   id,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      nostr.KindShortVideo,
		VideoURL:  "https://cdn.example/" + id + ".mp4",
	}
}

func videoIDs(videos []*types.VideoEvent) []string {
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	return ids
}

func TestBlockFilterSkipsParse(t *testing.T) {
	relay := &fakeRelay{respond: func([]types.Filter, bool) ([]types.Event, error) {
		return []types.Event{
			videoEvent("a1", "blocked", 100),
			videoEvent("a2", "allowed", 200),
		}, nil
	}}

	parseCalls := map[string]int{}
	repo := NewRepository(relay,
		WithBlockFilter(func(pubkey string) bool { return pubkey == "blocked" }),
		WithParser(func(evt types.Event) *types.VideoEvent {
			parseCalls[evt.PubKey]++
			return nostr.ParseVideoEvent(evt)
		}),
	)

	videos, err := repo.GetNewVideos(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetNewVideos: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "a2" {
		t.Fatalf("videos = %v, want [a2]", videoIDs(videos))
	}
	if parseCalls["blocked"] != 0 {
		t.Errorf("parse invoked %d times for blocked author, want 0", parseCalls["blocked"])
	}
	if parseCalls["allowed"] != 1 {
		t.Errorf("parse invoked %d times for allowed author, want 1", parseCalls["allowed"])
	}
}

func TestContentFilterRunsAfterParse(t *testing.T) {
	relay := &fakeRelay{respond: func([]types.Filter, bool) ([]types.Event, error) {
		return []types.Event{
			videoEvent("a1", "u1", 100, []string{"content-warning", "nudity"}),
			videoEvent("a2", "u1", 200),
		}, nil
	}}

	repo := NewRepository(relay, WithContentFilter(func(v *types.VideoEvent) bool {
		return v.HasContentWarning()
	}))

	videos, err := repo.GetNewVideos(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetNewVideos: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "a2" {
		t.Fatalf("videos = %v, want [a2]", videoIDs(videos))
	}
}

func TestNewVideosExcludesUnplayable(t *testing.T) {
	relay := &fakeRelay{respond: func([]types.Filter, bool) ([]types.Event, error) {
		return []types.Event{
			{ID: "nourl", PubKey: "u1", CreatedAt: 300, Kind: nostr.KindShortVideo, Tags: [][]string{{"title", "broken"}}},
			videoEvent("ok", "u1", 100),
		}, nil
	}}

	videos, err := NewRepository(relay).GetNewVideos(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetNewVideos: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "ok" {
		t.Fatalf("videos = %v, want [ok]", videoIDs(videos))
	}
	if !videos[0].HasPlayableURL() {
		t.Error("returned video must have a playable URL")
	}
}

func TestNewVideosExcludesExpired(t *testing.T) {
	relay := &fakeRelay{respond: func([]types.Filter, bool) ([]types.Event, error) {
		return []types.Event{
			videoEvent("expired", "u1", 100, []string{"expiration", "1000000000"}),
			videoEvent("live", "u1", 200),
		}, nil
	}}

	videos, err := NewRepository(relay).GetNewVideos(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetNewVideos: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "live" {
		t.Fatalf("videos = %v, want [live]", videoIDs(videos))
	}
}

func TestNewVideosPrefersFunnelcake(t *testing.T) {
	relay := &fakeRelay{}
	fc := &fakeFunnelcake{
		available: true,
		recent: func(limit int, before int64) ([]*types.VideoStats, error) {
			return []*types.VideoStats{statsRecord("f1", "u1", 500)}, nil
		},
	}

	repo := NewRepository(relay, WithFunnelcake(fc))
	videos, err := repo.GetNewVideos(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetNewVideos: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "f1" {
		t.Fatalf("videos = %v, want [f1]", videoIDs(videos))
	}
	if len(relay.calls) != 0 {
		t.Errorf("relay queried %d times, want 0", len(relay.calls))
	}
}

func TestNewVideosFallsBackOnFunnelcakeError(t *testing.T) {
	relay := &fakeRelay{respond: func([]types.Filter, bool) ([]types.Event, error) {
		return []types.Event{videoEvent("r1", "u1", 100)}, nil
	}}
	fc := &fakeFunnelcake{
		available: true,
		recent: func(int, int64) ([]*types.VideoStats, error) {
			return nil, errors.New("service down")
		},
	}

	videos, err := NewRepository(relay, WithFunnelcake(fc)).GetNewVideos(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetNewVideos: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "r1" {
		t.Fatalf("videos = %v, want [r1]", videoIDs(videos))
	}
}

func TestHomeFeedEmptyAuthors(t *testing.T) {
	relay := &fakeRelay{}
	result, err := NewRepository(relay).GetHomeFeedVideos(context.Background(), nil, 10, 0, nil)
	if err != nil {
		t.Fatalf("GetHomeFeedVideos: %v", err)
	}
	if len(result.Videos) != 0 {
		t.Errorf("videos = %v, want empty", videoIDs(result.Videos))
	}
	if len(relay.calls) != 0 {
		t.Errorf("relay queried %d times, want 0", len(relay.calls))
	}
}

func TestHomeFeedMergesListVideos(t *testing.T) {
	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		if len(filters) > 0 && len(filters[0].Authors) > 0 {
			return []types.Event{videoEvent("v1", "u1", 100)}, nil
		}
		if len(filters) > 0 && len(filters[0].IDs) > 0 {
			return []types.Event{videoEvent("v2", "other", 200)}, nil
		}
		return nil, nil
	}}

	result, err := NewRepository(relay).GetHomeFeedVideos(context.Background(),
		[]string{"u1"}, 10, 0, map[string][]string{"list-a": {"v2"}})
	if err != nil {
		t.Fatalf("GetHomeFeedVideos: %v", err)
	}

	got := videoIDs(result.Videos)
	if len(got) != 2 || got[0] != "v2" || got[1] != "v1" {
		t.Fatalf("videos = %v, want [v2 v1]", got)
	}
	if !result.ListOnlyVideoIDs["v2"] {
		t.Error("v2 should be list-only")
	}
	if result.ListOnlyVideoIDs["v1"] {
		t.Error("v1 is from a followed author, must not be list-only")
	}
	if sources := result.VideoListSources["v2"]; len(sources) != 1 || sources[0] != "list-a" {
		t.Errorf("sources for v2 = %v, want [list-a]", sources)
	}
}

func TestHomeFeedDedupFollowedVideoInList(t *testing.T) {
	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		if len(filters) > 0 && len(filters[0].Authors) > 0 {
			return []types.Event{videoEvent("shared", "u1", 100)}, nil
		}
		if len(filters) > 0 && len(filters[0].IDs) > 0 {
			// Same event resolved via the list ref, with different ID case.
			return []types.Event{videoEvent("SHARED", "u1", 100)}, nil
		}
		return nil, nil
	}}

	result, err := NewRepository(relay).GetHomeFeedVideos(context.Background(),
		[]string{"u1"}, 10, 0, map[string][]string{"list-a": {"SHARED"}})
	if err != nil {
		t.Fatalf("GetHomeFeedVideos: %v", err)
	}

	if len(result.Videos) != 1 {
		t.Fatalf("videos = %v, want exactly one entry", videoIDs(result.Videos))
	}
	if result.Videos[0].ID != "shared" {
		t.Errorf("kept ID = %q, want original-case from following set", result.Videos[0].ID)
	}
	if len(result.VideoListSources) != 1 {
		t.Errorf("VideoListSources = %v, want one attributed video", result.VideoListSources)
	}
	if len(result.ListOnlyVideoIDs) != 0 {
		t.Errorf("ListOnlyVideoIDs = %v, want empty (author is followed)", result.ListOnlyVideoIDs)
	}
}

func TestHomeFeedSortedNewestFirst(t *testing.T) {
	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		return []types.Event{
			videoEvent("old", "u1", 100),
			videoEvent("new", "u1", 300),
			videoEvent("mid", "u1", 200),
		}, nil
	}}

	result, err := NewRepository(relay).GetHomeFeedVideos(context.Background(), []string{"u1"}, 10, 0, nil)
	if err != nil {
		t.Fatalf("GetHomeFeedVideos: %v", err)
	}
	got := videoIDs(result.Videos)
	want := []string{"new", "mid", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("videos = %v, want %v", got, want)
		}
	}
}

func TestPopularTierOneSkipsRelay(t *testing.T) {
	relay := &fakeRelay{}
	fc := &fakeFunnelcake{
		available: true,
		trending: func(limit int, before int64) ([]*types.VideoStats, error) {
			// Deliberately not newest-first: trending order is authoritative.
			return []*types.VideoStats{
				statsRecord("t1", "u1", 100),
				statsRecord("t2", "u2", 500),
			}, nil
		},
	}

	videos, err := NewRepository(relay, WithFunnelcake(fc)).GetPopularVideos(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("GetPopularVideos: %v", err)
	}
	got := videoIDs(videos)
	if len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Fatalf("videos = %v, want [t1 t2] in trending order", got)
	}
	if len(relay.calls) != 0 {
		t.Errorf("relay queried %d times, want 0", len(relay.calls))
	}
}

func TestPopularTierTwoKeepsRelayOrder(t *testing.T) {
	relay := &fakeRelay{respond: func(filters []types.Filter, useCache bool) ([]types.Event, error) {
		if len(filters) == 1 && filters[0].Search == "sort:hot" {
			if useCache {
				return nil, errors.New("sorted query must bypass the response cache")
			}
			return []types.Event{
				videoEvent("h1", "u1", 100),
				videoEvent("h2", "u2", 500),
			}, nil
		}
		return nil, nil
	}}

	videos, err := NewRepository(relay).GetPopularVideos(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("GetPopularVideos: %v", err)
	}
	got := videoIDs(videos)
	if len(got) != 2 || got[0] != "h1" || got[1] != "h2" {
		t.Fatalf("videos = %v, want [h1 h2] in relay order", got)
	}
	if len(relay.calls) != 1 {
		t.Errorf("relay queried %d times, want 1", len(relay.calls))
	}
}

func TestPopularTierThreeRanksLocally(t *testing.T) {
	var fallbackLimit int
	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		if len(filters) == 1 && filters[0].Search == "sort:hot" {
			return nil, nil
		}
		fallbackLimit = filters[0].Limit
		return []types.Event{
			videoEvent("low", "u1", 100),
			videoEvent("high", "u2", 200, []string{"t", "funny"}),
			videoEvent("mid", "u3", 300),
		}, nil
	}}

	repo := NewRepository(relay, WithParser(func(evt types.Event) *types.VideoEvent {
		v := nostr.ParseVideoEvent(evt)
		switch evt.ID {
		case "high":
			v.Views = 1000
		case "mid":
			v.Views = 500
		}
		return v
	}))

	videos, err := repo.GetPopularVideos(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("GetPopularVideos: %v", err)
	}
	if fallbackLimit != 8 {
		t.Errorf("fallback limit = %d, want limit*multiplier = 8", fallbackLimit)
	}
	got := videoIDs(videos)
	if len(got) != 2 || got[0] != "high" || got[1] != "mid" {
		t.Fatalf("videos = %v, want [high mid] by engagement", got)
	}
	if len(relay.calls) != 2 {
		t.Errorf("relay queried %d times, want 2", len(relay.calls))
	}
}

func TestVideosByIDsPreservesInputOrder(t *testing.T) {
	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		return []types.Event{
			videoEvent("c", "u1", 300),
			videoEvent("a", "u1", 100),
			videoEvent("b", "u1", 200),
		}, nil
	}}

	videos, err := NewRepository(relay).GetVideosByIDs(context.Background(), []string{"a", "b", "c"}, false, false)
	if err != nil {
		t.Fatalf("GetVideosByIDs: %v", err)
	}
	got := videoIDs(videos)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("videos = %v, want %v", got, want)
		}
	}
}

func TestVideosByIDsOmitsUnresolved(t *testing.T) {
	relay := &fakeRelay{respond: func([]types.Filter, bool) ([]types.Event, error) {
		return []types.Event{videoEvent("b", "u1", 200)}, nil
	}}

	videos, err := NewRepository(relay).GetVideosByIDs(context.Background(), []string{"a", "b", "c"}, false, false)
	if err != nil {
		t.Fatalf("GetVideosByIDs: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "b" {
		t.Fatalf("videos = %v, want [b]", videoIDs(videos))
	}
}

func TestVideosByIDsEmptyInput(t *testing.T) {
	relay := &fakeRelay{}
	videos, err := NewRepository(relay).GetVideosByIDs(context.Background(), nil, true, true)
	if err != nil {
		t.Fatalf("GetVideosByIDs: %v", err)
	}
	if len(videos) != 0 {
		t.Errorf("videos = %v, want empty", videoIDs(videos))
	}
	if len(relay.calls) != 0 {
		t.Errorf("relay queried %d times, want 0", len(relay.calls))
	}
}

func TestVideosByIDsCacheHitSkipsRelayForKnownIDs(t *testing.T) {
	store := newFakeStore()
	store.events["a"] = videoEvent("a", "u1", 100)

	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		if len(filters) != 1 {
			t.Fatalf("got %d filters, want 1", len(filters))
		}
		if len(filters[0].IDs) != 1 || filters[0].IDs[0] != "b" {
			t.Errorf("relay asked for %v, want only the cache miss [b]", filters[0].IDs)
		}
		return []types.Event{videoEvent("b", "u1", 200)}, nil
	}}

	repo := NewRepository(relay, WithEventStore(store))
	videos, err := repo.GetVideosByIDs(context.Background(), []string{"a", "b"}, true, true)
	if err != nil {
		t.Fatalf("GetVideosByIDs: %v", err)
	}
	if got := videoIDs(videos); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("videos = %v, want [a b]", got)
	}
	if len(store.saved) != 1 || store.saved[0].ID != "b" {
		t.Errorf("saved = %v, want only the fetched event b", store.saved)
	}
}

func TestVideosForListMixedRefs(t *testing.T) {
	eventID := strings.Repeat("a", 64)
	coordinate := fmt.Sprintf("%d:u9:clip-1", nostr.KindAddressableShortVideo)

	relay := &fakeRelay{respond: func(filters []types.Filter, _ bool) ([]types.Event, error) {
		if len(filters[0].IDs) > 0 {
			return []types.Event{videoEvent(eventID, "u1", 100)}, nil
		}
		evt := videoEvent("addr1", "u9", 200, []string{"d", "clip-1"})
		evt.Kind = nostr.KindAddressableShortVideo
		return []types.Event{evt}, nil
	}}

	videos, err := NewRepository(relay).GetVideosForList(context.Background(), []string{coordinate, eventID})
	if err != nil {
		t.Fatalf("GetVideosForList: %v", err)
	}
	got := videoIDs(videos)
	if len(got) != 2 || got[0] != "addr1" || got[1] != eventID {
		t.Fatalf("videos = %v, want [addr1 %s] in ref order", got, eventID)
	}
}

func TestRESTOnlyMethodsWithoutClient(t *testing.T) {
	repo := NewRepository(&fakeRelay{})
	ctx := context.Background()

	if videos, err := repo.SearchVideos(ctx, "cats", 10, 0); err != nil || videos != nil {
		t.Errorf("SearchVideos = (%v, %v), want (nil, nil)", videos, err)
	}
	if stats, err := repo.GetVideoStats(ctx, "abc"); err != nil || stats != nil {
		t.Errorf("GetVideoStats = (%v, %v), want (nil, nil)", stats, err)
	}
	if views, err := repo.GetVideoViews(ctx, "abc"); err != nil || views != 0 {
		t.Errorf("GetVideoViews = (%d, %v), want (0, nil)", views, err)
	}
}

func TestRESTOnlyMethodsPropagateErrors(t *testing.T) {
	fc := &fakeFunnelcake{
		available: true,
		search: func(string, int, int64) ([]*types.VideoStats, error) {
			return nil, errors.New("search backend down")
		},
	}
	repo := NewRepository(&fakeRelay{}, WithFunnelcake(fc))

	if _, err := repo.SearchVideos(context.Background(), "cats", 10, 0); err == nil {
		t.Fatal("SearchVideos should propagate the service error")
	}
}

func TestRelayErrorPropagates(t *testing.T) {
	relay := &fakeRelay{respond: func([]types.Filter, bool) ([]types.Event, error) {
		return nil, errors.New("relay unreachable")
	}}

	if _, err := NewRepository(relay).GetNewVideos(context.Background(), 10, 0); err == nil {
		t.Fatal("relay errors must propagate")
	}
}
