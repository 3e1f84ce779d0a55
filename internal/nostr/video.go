package nostr

import (
	"strconv"
	"strings"

	"vinefeed-server/internal/types"
)

// ParseVideoEvent extracts video metadata from a raw event's tags. It always
// returns a value; playability and expiry are enforced by the filter
// pipeline, not here. Media attributes come from the NIP-92 imeta tag with
// bare url/title/image tags as fallback for older events.
func ParseVideoEvent(evt types.Event) *types.VideoEvent {
	v := &types.VideoEvent{
		ID:        evt.ID,
		PubKey:    evt.PubKey,
		CreatedAt: evt.CreatedAt,
		Kind:      evt.Kind,
		Content:   evt.Content,
		RawTags:   make(map[string]string, len(evt.Tags)),
	}

	for _, tag := range evt.Tags {
		if len(tag) == 0 {
			continue
		}
		name := tag[0]
		value := ""
		if len(tag) >= 2 {
			value = tag[1]
		}
		if _, seen := v.RawTags[name]; !seen {
			v.RawTags[name] = value
		}

		switch name {
		case "imeta":
			applyIMeta(v, tag[1:])
		case "url":
			if v.VideoURL == "" {
				v.VideoURL = value
			}
		case "title":
			v.Title = value
		case "image", "thumb":
			if v.ThumbnailURL == "" {
				v.ThumbnailURL = value
			}
		case "duration":
			if d, err := strconv.Atoi(value); err == nil {
				v.Duration = d
			}
		case "d":
			v.VineID = value
		case "t":
			if value != "" {
				v.Hashtags = append(v.Hashtags, value)
			}
		case "expiration":
			if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
				v.ExpiresAt = ts
			}
		}
	}

	return v
}

// applyIMeta parses the space-delimited key/value entries of an imeta tag.
func applyIMeta(v *types.VideoEvent, entries []string) {
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, " ")
		if !found || value == "" {
			continue
		}
		switch key {
		case "url":
			if v.VideoURL == "" {
				v.VideoURL = value
			}
		case "image", "thumb":
			if v.ThumbnailURL == "" {
				v.ThumbnailURL = value
			}
		case "m":
			if v.MimeType == "" {
				v.MimeType = value
			}
		case "duration":
			if d, err := strconv.Atoi(value); err == nil && v.Duration == 0 {
				v.Duration = d
			}
		}
	}
}
