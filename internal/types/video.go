package types

import (
	"strings"
	"time"
)

// VideoEvent is one playable short video parsed from a relay event or a
// Funnelcake stats record. Immutable after construction.
type VideoEvent struct {
	ID           string `json:"id"`
	PubKey       string `json:"pubkey"`
	CreatedAt    int64  `json:"created_at"`
	Kind         int    `json:"kind"`
	Title        string `json:"title,omitempty"`
	Content      string `json:"content,omitempty"`
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	Duration     int    `json:"duration,omitempty"` // seconds

	// VineID is the d-tag discriminator for addressable video events.
	VineID string `json:"vine_id,omitempty"`

	Hashtags []string `json:"hashtags,omitempty"`

	// RawTags maps tag name to its first value, used for marker detection
	// (content-warning, expiration) without re-walking the tag list.
	RawTags map[string]string `json:"-"`

	// ExpiresAt is the NIP-40 expiration timestamp, 0 when none.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// Engagement counters. Zero for relay-sourced events; populated from
	// Funnelcake stats records.
	Views    int64 `json:"views,omitempty"`
	Likes    int64 `json:"likes,omitempty"`
	Comments int64 `json:"comments,omitempty"`
	Reposts  int64 `json:"reposts,omitempty"`
	Loops    int64 `json:"loops,omitempty"`
}

// HasPlayableURL reports whether the video carries a non-empty URL.
// Videos without one never surface in feeds.
func (v *VideoEvent) HasPlayableURL() bool {
	return v != nil && strings.TrimSpace(v.VideoURL) != ""
}

// IsExpired reports whether a NIP-40 expiration timestamp has passed.
func (v *VideoEvent) IsExpired() bool {
	return v.ExpiresAt > 0 && v.ExpiresAt <= time.Now().Unix()
}

// HasContentWarning reports whether the event carried a content-warning tag.
func (v *VideoEvent) HasContentWarning() bool {
	_, ok := v.RawTags["content-warning"]
	return ok
}

// IsNSFW reports whether the video is marked sensitive, either by a
// content-warning tag or an explicit nsfw hashtag.
func (v *VideoEvent) IsNSFW() bool {
	if v.HasContentWarning() {
		return true
	}
	for _, tag := range v.Hashtags {
		if strings.EqualFold(tag, "nsfw") {
			return true
		}
	}
	return false
}

// EngagementScore computes a ranking value from the engagement counters.
// Views count once, interactions are weighted heavily, loops sit in between
// since a loop is a completed watch rather than an impression.
func (v *VideoEvent) EngagementScore() float64 {
	interactions := v.Likes + v.Comments + v.Reposts
	return float64(v.Views) + float64(interactions*100) + float64(v.Loops)*10
}

// VideoStats is a Funnelcake stats record mirroring the fields needed to
// build a VideoEvent plus server-computed engagement data.
type VideoStats struct {
	EventID      string  `json:"event_id"`
	PubKey       string  `json:"pubkey"`
	CreatedAt    int64   `json:"created_at"`
	Kind         int     `json:"kind"`
	DTag         string  `json:"d_tag,omitempty"`
	Title        string  `json:"title,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	VideoURL     string  `json:"video_url"`
	Views        int64   `json:"views"`
	Likes        int64   `json:"likes"`
	Comments     int64   `json:"comments"`
	Reposts      int64   `json:"reposts"`
	Score        float64 `json:"score"`
	LoopCount    *int64  `json:"loop_count,omitempty"`
}

// ToVideoEvent converts a stats record into a VideoEvent.
func (s *VideoStats) ToVideoEvent() *VideoEvent {
	v := &VideoEvent{
		ID:           s.EventID,
		PubKey:       s.PubKey,
		CreatedAt:    s.CreatedAt,
		Kind:         s.Kind,
		Title:        s.Title,
		VideoURL:     s.VideoURL,
		ThumbnailURL: s.ThumbnailURL,
		VineID:       s.DTag,
		RawTags:      map[string]string{},
		Views:        s.Views,
		Likes:        s.Likes,
		Comments:     s.Comments,
		Reposts:      s.Reposts,
	}
	if s.LoopCount != nil {
		v.Loops = *s.LoopCount
	}
	return v
}

// HomeFeedResult is the composite result of a home feed fetch.
type HomeFeedResult struct {
	// Videos is newest-first and deduplicated case-insensitively by ID.
	Videos []*VideoEvent `json:"videos"`

	// VideoListSources maps a video ID to the curated list IDs that
	// reference it, for every video any subscribed list resolved.
	VideoListSources map[string][]string `json:"video_list_sources,omitempty"`

	// ListOnlyVideoIDs holds IDs present solely because a list referenced
	// them (author not in the followed set).
	ListOnlyVideoIDs map[string]bool `json:"list_only_video_ids,omitempty"`
}
