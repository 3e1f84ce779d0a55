// Package videos implements the feed assembly engine: it fetches short
// videos from relays and the optional Funnelcake accelerator, merges and
// de-duplicates across the two sources, applies the content filter pipeline
// and produces stable, ordered feeds.
package videos

import (
	"context"
	"log/slog"
	"strings"

	"vinefeed-server/internal/nostr"
	"vinefeed-server/internal/types"
)

const (
	defaultFetchMultiplier = 4
	defaultProfileLimit    = 5
	addressableBatchSize   = 20
	authorFallbackLimit    = 100
)

// NostrClient is the relay query capability. useCache permits serving from a
// response cache; engine paths that depend on server-side ordering bypass it.
type NostrClient interface {
	QueryEvents(ctx context.Context, filters []types.Filter, useCache bool) ([]types.Event, error)
}

// FunnelcakeClient is the optional REST accelerator capability. Every method
// may fail with a *funnelcake.ServiceError; feed modes with a relay fallback
// swallow those failures, REST-only modes propagate them.
type FunnelcakeClient interface {
	IsAvailable() bool
	GetRecentVideos(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error)
	GetHomeFeed(ctx context.Context, authors []string, limit int, before int64) ([]*types.VideoStats, error)
	GetTrendingVideos(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error)
	GetCollabVideos(ctx context.Context, pubkey string, limit int, before int64) ([]*types.VideoStats, error)
	GetVideosByAuthor(ctx context.Context, pubkey string, limit int, before int64) ([]*types.VideoStats, error)
	GetVideosByLoops(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error)
	GetVideosByHashtag(ctx context.Context, hashtag string, limit int, before int64) ([]*types.VideoStats, error)
	GetClassicVideosByHashtag(ctx context.Context, hashtag string, limit int, before int64) ([]*types.VideoStats, error)
	SearchVideos(ctx context.Context, query string, limit int, before int64) ([]*types.VideoStats, error)
	GetClassicVines(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error)
	GetRecommendations(ctx context.Context, pubkey string, limit int) ([]*types.VideoStats, error)
	GetVideoStats(ctx context.Context, eventID string) (*types.VideoStats, error)
	GetVideoViews(ctx context.Context, eventID string) (int64, error)
	GetBulkVideoStats(ctx context.Context, eventIDs []string) ([]*types.VideoStats, error)
}

// EventStore is the optional local event cache consulted by ID-based lookups.
type EventStore interface {
	GetEventsByIDs(ctx context.Context, ids []string) ([]types.Event, error)
	SaveEventsBatch(ctx context.Context, events []types.Event) error
}

// Repository is the feed assembly engine. It is stateless after construction
// and safe for concurrent use as long as its collaborators are.
type Repository struct {
	relay      NostrClient
	funnelcake FunnelcakeClient
	events     EventStore

	blockFilter   BlockFilter
	contentFilter ContentFilter
	parse         ParseFunc

	fetchMultiplier int
	batchSize       int
}

// Option configures a Repository.
type Option func(*Repository)

// WithFunnelcake attaches the optional REST accelerator client.
func WithFunnelcake(client FunnelcakeClient) Option {
	return func(r *Repository) { r.funnelcake = client }
}

// WithEventStore attaches the optional local event cache.
func WithEventStore(store EventStore) Option {
	return func(r *Repository) { r.events = store }
}

// WithBlockFilter installs the pre-parse author block filter.
func WithBlockFilter(filter BlockFilter) Option {
	return func(r *Repository) { r.blockFilter = filter }
}

// WithContentFilter installs the post-parse content filter.
func WithContentFilter(filter ContentFilter) Option {
	return func(r *Repository) { r.contentFilter = filter }
}

// WithParser overrides the raw-event parser.
func WithParser(parse ParseFunc) Option {
	return func(r *Repository) { r.parse = parse }
}

// WithFetchMultiplier overrides the over-fetch factor for the popular feed's
// client-side ranking fallback.
func WithFetchMultiplier(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.fetchMultiplier = n
		}
	}
}

// NewRepository creates a feed engine over the given relay client.
func NewRepository(relay NostrClient, opts ...Option) *Repository {
	r := &Repository{
		relay:           relay,
		parse:           func(evt types.Event) *types.VideoEvent { return nostr.ParseVideoEvent(evt) },
		fetchMultiplier: defaultFetchMultiplier,
		batchSize:       addressableBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// funnelcakeReady reports whether the REST accelerator can be tried.
func (r *Repository) funnelcakeReady() bool {
	return r.funnelcake != nil && r.funnelcake.IsAvailable()
}

func untilPtr(until int64) *int64 {
	if until <= 0 {
		return nil
	}
	return &until
}

// GetNewVideos returns the global firehose of recent videos, newest first.
// Funnelcake is tried first when ready; any failure or empty result falls
// through to a relay query.
func (r *Repository) GetNewVideos(ctx context.Context, limit int, until int64) ([]*types.VideoEvent, error) {
	if r.funnelcakeReady() {
		stats, err := r.funnelcake.GetRecentVideos(ctx, limit, until)
		if err != nil {
			slog.Debug("funnelcake recent videos failed, falling back to relay", "error", err)
		} else if videos := r.filterStats(stats); len(videos) > 0 {
			return videos, nil
		}
	}

	events, err := r.relay.QueryEvents(ctx, []types.Filter{{
		Kinds: nostr.VideoKinds(),
		Limit: limit,
		Until: untilPtr(until),
	}}, true)
	if err != nil {
		return nil, err
	}

	videos := r.filterEvents(events)
	sortNewestFirst(videos)
	return videos, nil
}

// GetHomeFeedVideos returns the personalized feed for a set of followed
// authors, optionally merged with videos referenced by subscribed curated
// lists. videoRefs maps a list ID to the raw event-ID or coordinate strings
// it references. An empty authors set short-circuits to an empty result.
func (r *Repository) GetHomeFeedVideos(ctx context.Context, authors []string, limit int, until int64, videoRefs map[string][]string) (*types.HomeFeedResult, error) {
	result := &types.HomeFeedResult{
		Videos:           []*types.VideoEvent{},
		VideoListSources: map[string][]string{},
		ListOnlyVideoIDs: map[string]bool{},
	}
	if len(authors) == 0 {
		return result, nil
	}

	following, err := r.fetchFollowingVideos(ctx, authors, limit, until)
	if err != nil {
		return nil, err
	}

	if len(videoRefs) == 0 {
		sortNewestFirst(following)
		result.Videos = following
		return result, nil
	}

	refSet := make(map[string]bool)
	var allRefs []string
	for _, refs := range videoRefs {
		for _, ref := range refs {
			if !refSet[ref] {
				refSet[ref] = true
				allRefs = append(allRefs, ref)
			}
		}
	}

	resolved, err := r.resolveRefs(ctx, allRefs)
	if err != nil {
		return nil, err
	}

	followingIDs := make(map[string]bool, len(following))
	for _, v := range following {
		followingIDs[strings.ToLower(v.ID)] = true
	}

	// Attribution: every list-resolved video records its source lists. The
	// list-only set is the list videos whose author was not followed.
	for listID, refs := range videoRefs {
		for _, ref := range refs {
			video, ok := resolved[ref]
			if !ok {
				continue
			}
			if !containsString(result.VideoListSources[video.ID], listID) {
				result.VideoListSources[video.ID] = append(result.VideoListSources[video.ID], listID)
			}
			if !followingIDs[strings.ToLower(video.ID)] {
				result.ListOnlyVideoIDs[video.ID] = true
			}
		}
	}

	merged := make([]*types.VideoEvent, 0, len(following)+len(resolved))
	seen := make(map[string]bool)
	for _, v := range following {
		key := strings.ToLower(v.ID)
		if !seen[key] {
			seen[key] = true
			merged = append(merged, v)
		}
	}
	for _, ref := range allRefs {
		video, ok := resolved[ref]
		if !ok {
			continue
		}
		key := strings.ToLower(video.ID)
		if !seen[key] {
			seen[key] = true
			merged = append(merged, video)
		}
	}

	sortNewestFirst(merged)
	result.Videos = merged
	return result, nil
}

func (r *Repository) fetchFollowingVideos(ctx context.Context, authors []string, limit int, until int64) ([]*types.VideoEvent, error) {
	if r.funnelcakeReady() {
		stats, err := r.funnelcake.GetHomeFeed(ctx, authors, limit, until)
		if err != nil {
			slog.Debug("funnelcake home feed failed, falling back to relay", "error", err)
		} else if videos := r.filterStats(stats); len(videos) > 0 {
			return videos, nil
		}
	}

	events, err := r.relay.QueryEvents(ctx, []types.Filter{{
		Kinds:   nostr.VideoKinds(),
		Authors: authors,
		Limit:   limit,
		Until:   untilPtr(until),
	}}, true)
	if err != nil {
		return nil, err
	}
	return r.filterEvents(events), nil
}

// GetPopularVideos returns the engagement-ranked feed via a three-tier
// strategy: Funnelcake trending, then a server-sorted relay search, then an
// over-fetched relay query ranked client-side. A tier's ordering is kept
// untouched when it produces results.
func (r *Repository) GetPopularVideos(ctx context.Context, limit int, until int64) ([]*types.VideoEvent, error) {
	if r.funnelcakeReady() {
		stats, err := r.funnelcake.GetTrendingVideos(ctx, limit, until)
		if err != nil {
			slog.Debug("funnelcake trending failed, falling back to relay", "error", err)
		} else if videos := r.filterStats(stats); len(videos) > 0 {
			return videos, nil
		}
	}

	// Server-side ranking. The response cache is bypassed so ranking
	// freshness comes from the relay, and the returned order is kept.
	events, err := r.relay.QueryEvents(ctx, []types.Filter{{
		Kinds:  nostr.VideoKinds(),
		Search: "sort:hot",
		Limit:  limit,
		Until:  untilPtr(until),
	}}, false)
	if err != nil {
		return nil, err
	}
	if videos := r.filterEvents(events); len(videos) > 0 {
		return videos, nil
	}

	// Last resort: over-fetch recent videos and rank locally.
	events, err = r.relay.QueryEvents(ctx, []types.Filter{{
		Kinds: nostr.VideoKinds(),
		Limit: limit * r.fetchMultiplier,
		Until: untilPtr(until),
	}}, true)
	if err != nil {
		return nil, err
	}

	videos := r.filterEvents(events)
	sortByEngagement(videos)
	if len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

// GetProfileVideos returns one author's videos, newest first.
func (r *Repository) GetProfileVideos(ctx context.Context, pubkey string, limit int, until int64) ([]*types.VideoEvent, error) {
	if limit <= 0 {
		limit = defaultProfileLimit
	}

	events, err := r.relay.QueryEvents(ctx, []types.Filter{{
		Kinds:   nostr.VideoKinds(),
		Authors: []string{pubkey},
		Limit:   limit,
		Until:   untilPtr(until),
	}}, true)
	if err != nil {
		return nil, err
	}

	videos := r.filterEvents(events)
	sortNewestFirst(videos)
	return videos, nil
}

// GetCollabVideos returns videos that tag the given pubkey as a participant.
func (r *Repository) GetCollabVideos(ctx context.Context, pubkey string, limit int, until int64) ([]*types.VideoEvent, error) {
	if r.funnelcakeReady() {
		stats, err := r.funnelcake.GetCollabVideos(ctx, pubkey, limit, until)
		if err != nil {
			slog.Debug("funnelcake collab videos failed, falling back to relay", "error", err)
		} else if videos := r.filterStats(stats); len(videos) > 0 {
			return videos, nil
		}
	}

	events, err := r.relay.QueryEvents(ctx, []types.Filter{{
		Kinds: nostr.VideoKinds(),
		PTags: []string{pubkey},
		Limit: limit,
		Until: untilPtr(until),
	}}, true)
	if err != nil {
		return nil, err
	}

	videos := r.filterEvents(events)
	sortNewestFirst(videos)
	return videos, nil
}

// GetVideosByIDs resolves a set of event IDs, returning results in the exact
// input order with unresolved IDs omitted. useCache consults the local event
// store before the relay; saveToCache persists newly fetched events.
func (r *Repository) GetVideosByIDs(ctx context.Context, eventIDs []string, useCache, saveToCache bool) ([]*types.VideoEvent, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	byID := make(map[string]types.Event)

	if useCache && r.events != nil {
		cached, err := r.events.GetEventsByIDs(ctx, eventIDs)
		if err != nil {
			slog.Debug("event cache lookup failed", "error", err)
		}
		for _, evt := range cached {
			byID[strings.ToLower(evt.ID)] = evt
		}
	}

	var missing []string
	for _, id := range eventIDs {
		if _, ok := byID[strings.ToLower(id)]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		fetched, err := r.relay.QueryEvents(ctx, []types.Filter{{IDs: missing}}, true)
		if err != nil {
			return nil, err
		}
		for _, evt := range fetched {
			byID[strings.ToLower(evt.ID)] = evt
		}
		if saveToCache && r.events != nil && len(fetched) > 0 {
			if err := r.events.SaveEventsBatch(ctx, fetched); err != nil {
				slog.Debug("event cache save failed", "error", err)
			}
		}
	}

	result := make([]*types.VideoEvent, 0, len(eventIDs))
	emitted := make(map[string]bool)
	for _, id := range eventIDs {
		key := strings.ToLower(id)
		if emitted[key] {
			continue
		}
		evt, ok := byID[key]
		if !ok {
			continue
		}
		if video := r.filterEvent(evt); video != nil {
			emitted[key] = true
			result = append(result, video)
		}
	}
	return result, nil
}

// GetVideosForList resolves a mixed sequence of event-ID and coordinate
// references, emitting resolved videos in the exact input order.
func (r *Repository) GetVideosForList(ctx context.Context, refs []string) ([]*types.VideoEvent, error) {
	resolved, err := r.resolveRefs(ctx, refs)
	if err != nil {
		return nil, err
	}

	result := make([]*types.VideoEvent, 0, len(refs))
	seen := make(map[string]bool)
	for _, ref := range refs {
		video, ok := resolved[ref]
		if !ok {
			continue
		}
		key := strings.ToLower(video.ID)
		if !seen[key] {
			seen[key] = true
			result = append(result, video)
		}
	}
	return result, nil
}

// resolveRefs resolves mixed references, keyed by the original ref string.
func (r *Repository) resolveRefs(ctx context.Context, refs []string) (map[string]*types.VideoEvent, error) {
	var eventIDs, coordinates []string
	for _, ref := range refs {
		if nostr.LooksLikeAId(ref) {
			coordinates = append(coordinates, ref)
		} else {
			eventIDs = append(eventIDs, ref)
		}
	}

	resolved := make(map[string]*types.VideoEvent, len(refs))

	if len(eventIDs) > 0 {
		videos, err := r.GetVideosByIDs(ctx, eventIDs, true, false)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*types.VideoEvent, len(videos))
		for _, v := range videos {
			byID[strings.ToLower(v.ID)] = v
		}
		for _, id := range eventIDs {
			if v, ok := byID[strings.ToLower(id)]; ok {
				resolved[id] = v
			}
		}
	}

	if len(coordinates) > 0 {
		byCoord, err := r.resolveAddressable(ctx, coordinates)
		if err != nil {
			return nil, err
		}
		for ref, v := range byCoord {
			resolved[ref] = v
		}
	}

	return resolved, nil
}

// REST-only pass-throughs. These modes have no relay equivalent: when the
// accelerator is absent or backing off they return empty immediately, and
// when it fails the error propagates so the caller sees the failure.

// GetVideosByLoops returns videos ranked by loop count.
func (r *Repository) GetVideosByLoops(ctx context.Context, limit int, until int64) ([]*types.VideoEvent, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	stats, err := r.funnelcake.GetVideosByLoops(ctx, limit, until)
	if err != nil {
		return nil, err
	}
	return r.filterStats(stats), nil
}

// GetVideosByHashtag returns videos carrying the given hashtag.
func (r *Repository) GetVideosByHashtag(ctx context.Context, hashtag string, limit int, until int64) ([]*types.VideoEvent, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	stats, err := r.funnelcake.GetVideosByHashtag(ctx, hashtag, limit, until)
	if err != nil {
		return nil, err
	}
	return r.filterStats(stats), nil
}

// GetClassicVideosByHashtag returns archived classic vines for a hashtag.
func (r *Repository) GetClassicVideosByHashtag(ctx context.Context, hashtag string, limit int, until int64) ([]*types.VideoEvent, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	stats, err := r.funnelcake.GetClassicVideosByHashtag(ctx, hashtag, limit, until)
	if err != nil {
		return nil, err
	}
	return r.filterStats(stats), nil
}

// SearchVideos performs a full-text search over the corpus.
func (r *Repository) SearchVideos(ctx context.Context, query string, limit int, until int64) ([]*types.VideoEvent, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	stats, err := r.funnelcake.SearchVideos(ctx, query, limit, until)
	if err != nil {
		return nil, err
	}
	return r.filterStats(stats), nil
}

// GetClassicVines returns the archived classic vine corpus.
func (r *Repository) GetClassicVines(ctx context.Context, limit int, until int64) ([]*types.VideoEvent, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	stats, err := r.funnelcake.GetClassicVines(ctx, limit, until)
	if err != nil {
		return nil, err
	}
	return r.filterStats(stats), nil
}

// GetVideosByAuthor returns one author's videos from the accelerator.
func (r *Repository) GetVideosByAuthor(ctx context.Context, pubkey string, limit int, until int64) ([]*types.VideoEvent, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	stats, err := r.funnelcake.GetVideosByAuthor(ctx, pubkey, limit, until)
	if err != nil {
		return nil, err
	}
	return r.filterStats(stats), nil
}

// GetRecommendations returns personalized recommendations for a pubkey.
func (r *Repository) GetRecommendations(ctx context.Context, pubkey string, limit int) ([]*types.VideoEvent, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	stats, err := r.funnelcake.GetRecommendations(ctx, pubkey, limit)
	if err != nil {
		return nil, err
	}
	return r.filterStats(stats), nil
}

// GetVideoStats returns the raw stats record for one video.
func (r *Repository) GetVideoStats(ctx context.Context, eventID string) (*types.VideoStats, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	return r.funnelcake.GetVideoStats(ctx, eventID)
}

// GetVideoViews returns the view count for one video.
func (r *Repository) GetVideoViews(ctx context.Context, eventID string) (int64, error) {
	if !r.funnelcakeReady() {
		return 0, nil
	}
	return r.funnelcake.GetVideoViews(ctx, eventID)
}

// GetBulkVideoStats returns stats records for many videos in one call.
func (r *Repository) GetBulkVideoStats(ctx context.Context, eventIDs []string) ([]*types.VideoStats, error) {
	if !r.funnelcakeReady() {
		return nil, nil
	}
	return r.funnelcake.GetBulkVideoStats(ctx, eventIDs)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
