package videos

import (
	"sort"

	"vinefeed-server/internal/nostr"
	"vinefeed-server/internal/types"
)

// BlockFilter excludes an author before their events are parsed. Returning
// true drops every event by that pubkey without invoking the parser.
type BlockFilter func(pubkey string) bool

// ContentFilter excludes a parsed video based on its full metadata
// (hashtags, content warnings). Returning true drops the video.
type ContentFilter func(video *types.VideoEvent) bool

// ParseFunc converts a raw relay event into a video. Injectable so tests can
// count invocations.
type ParseFunc func(evt types.Event) *types.VideoEvent

// filterEvent runs one raw event through the pipeline. The stage order is
// fixed: kind check, block filter, parse, playable-URL check, expiry check,
// content filter. The block filter runs before the parse so blocked authors
// never pay the parse cost. Returns nil when any stage excludes the event.
func (r *Repository) filterEvent(evt types.Event) *types.VideoEvent {
	if !nostr.IsVideoKind(evt.Kind) {
		return nil
	}
	if r.blockFilter != nil && r.blockFilter(evt.PubKey) {
		return nil
	}
	video := r.parse(evt)
	if video == nil || !video.HasPlayableURL() || video.IsExpired() {
		return nil
	}
	if r.contentFilter != nil && r.contentFilter(video) {
		return nil
	}
	return video
}

// filterEvents applies the pipeline to a batch, preserving input order.
func (r *Repository) filterEvents(events []types.Event) []*types.VideoEvent {
	result := make([]*types.VideoEvent, 0, len(events))
	for _, evt := range events {
		if video := r.filterEvent(evt); video != nil {
			result = append(result, video)
		}
	}
	return result
}

// filterStat runs one Funnelcake stats record through the pipeline. Stats
// records are already parsed server-side, so the pipeline is block filter,
// conversion, playable-URL check, expiry check, content filter.
func (r *Repository) filterStat(stat *types.VideoStats) *types.VideoEvent {
	if stat == nil {
		return nil
	}
	if r.blockFilter != nil && r.blockFilter(stat.PubKey) {
		return nil
	}
	video := stat.ToVideoEvent()
	if !video.HasPlayableURL() || video.IsExpired() {
		return nil
	}
	if r.contentFilter != nil && r.contentFilter(video) {
		return nil
	}
	return video
}

// filterStats applies the pipeline to a batch of stats records, preserving
// input order. Funnelcake orderings (trending, search relevance) survive.
func (r *Repository) filterStats(stats []*types.VideoStats) []*types.VideoEvent {
	result := make([]*types.VideoEvent, 0, len(stats))
	for _, stat := range stats {
		if video := r.filterStat(stat); video != nil {
			result = append(result, video)
		}
	}
	return result
}

// sortNewestFirst orders videos by created_at descending. The sort is stable
// so equal timestamps keep their merge-insertion order.
func sortNewestFirst(videos []*types.VideoEvent) {
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].CreatedAt > videos[j].CreatedAt
	})
}

// sortByEngagement orders videos by computed engagement score descending.
func sortByEngagement(videos []*types.VideoEvent) {
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].EngagementScore() > videos[j].EngagementScore()
	})
}
