package videos

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"vinefeed-server/internal/nostr"
	"vinefeed-server/internal/types"
	"vinefeed-server/internal/util"
)

// GetVideosByAddressableIDs resolves addressable coordinates
// ("kind:pubkey:dtag"), returning videos in the exact input order.
// Malformed or non-video coordinates are dropped silently; coordinates
// neither the relay nor the accelerator can resolve are omitted.
func (r *Repository) GetVideosByAddressableIDs(ctx context.Context, addressableIDs []string) ([]*types.VideoEvent, error) {
	resolved, err := r.resolveAddressable(ctx, addressableIDs)
	if err != nil {
		return nil, err
	}

	result := make([]*types.VideoEvent, 0, len(resolved))
	seen := make(map[string]bool)
	for _, id := range addressableIDs {
		video, ok := resolved[id]
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

// resolveAddressable resolves coordinates to videos, keyed by the original
// coordinate string. Relay queries go out in fixed-size batches run
// concurrently; coordinates the relay leaves unresolved fall back to one
// accelerator by-author call per distinct author.
func (r *Repository) resolveAddressable(ctx context.Context, addressableIDs []string) (map[string]*types.VideoEvent, error) {
	type coordRef struct {
		raw string
		aid nostr.AId
	}

	var valid []coordRef
	rawByCanonical := make(map[string][]string)
	for _, raw := range addressableIDs {
		aid, ok := nostr.ParseAId(raw)
		if !ok || !nostr.IsVideoKind(aid.Kind) {
			continue
		}
		valid = append(valid, coordRef{raw: raw, aid: aid})
		canonical := aid.String()
		rawByCanonical[canonical] = append(rawByCanonical[canonical], raw)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	// One relay query per batch of coordinates, each coordinate as its own
	// filter. Batches run concurrently; the relay bounds filter count per
	// request, hence the fixed batch size.
	var canonicals []string
	seenCanonical := make(map[string]bool)
	aidByCanonical := make(map[string]nostr.AId, len(valid))
	for _, ref := range valid {
		canonical := ref.aid.String()
		if !seenCanonical[canonical] {
			seenCanonical[canonical] = true
			canonicals = append(canonicals, canonical)
			aidByCanonical[canonical] = ref.aid
		}
	}

	var mu sync.Mutex
	eventsByCanonical := make(map[string]types.Event)

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range util.ChunkStrings(canonicals, r.batchSize) {
		batch := batch
		g.Go(func() error {
			filters := make([]types.Filter, 0, len(batch))
			for _, canonical := range batch {
				aid := aidByCanonical[canonical]
				filters = append(filters, types.Filter{
					Kinds:   []int{aid.Kind},
					Authors: []string{aid.PubKey},
					DTags:   []string{aid.DTag},
					Limit:   1,
				})
			}

			events, err := r.relay.QueryEvents(gctx, filters, true)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for _, evt := range events {
				canonical := nostr.AId{Kind: evt.Kind, PubKey: evt.PubKey, DTag: evt.TagValue("d")}.String()
				// Addressable events are replaceable: newest version wins.
				if existing, ok := eventsByCanonical[canonical]; !ok || evt.CreatedAt > existing.CreatedAt {
					eventsByCanonical[canonical] = evt
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	videoByCanonical := make(map[string]*types.VideoEvent, len(eventsByCanonical))
	for canonical, evt := range eventsByCanonical {
		if video := r.filterEvent(evt); video != nil {
			videoByCanonical[canonical] = video
		}
	}

	// Accelerator fallback for coordinates the relay missed: one by-author
	// call per distinct author, matched against the missing d-tags. A failed
	// author call leaves that author's coordinates unresolved.
	if r.funnelcakeReady() {
		missingByAuthor := make(map[string][]nostr.AId)
		for _, canonical := range canonicals {
			if _, ok := videoByCanonical[canonical]; ok {
				continue
			}
			aid := aidByCanonical[canonical]
			missingByAuthor[aid.PubKey] = append(missingByAuthor[aid.PubKey], aid)
		}

		if len(missingByAuthor) > 0 {
			var fg errgroup.Group
			for author, missing := range missingByAuthor {
				author, missing := author, missing
				fg.Go(func() error {
					stats, err := r.funnelcake.GetVideosByAuthor(ctx, author, authorFallbackLimit, 0)
					if err != nil {
						slog.Debug("funnelcake by-author fallback failed", "author", nostr.ShortID(author), "error", err)
						return nil
					}

					wantDTags := make(map[string]nostr.AId, len(missing))
					for _, aid := range missing {
						wantDTags[aid.DTag] = aid
					}

					mu.Lock()
					defer mu.Unlock()
					for _, stat := range stats {
						aid, ok := wantDTags[stat.DTag]
						if !ok {
							continue
						}
						if video := r.filterStat(stat); video != nil {
							videoByCanonical[aid.String()] = video
						}
					}
					return nil
				})
			}
			_ = fg.Wait() // author goroutines swallow their own errors
		}
	}

	resolved := make(map[string]*types.VideoEvent, len(videoByCanonical))
	for canonical, video := range videoByCanonical {
		for _, raw := range rawByCanonical[canonical] {
			resolved[raw] = video
		}
	}
	return resolved, nil
}
