package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"vinefeed-server/internal/types"
	"vinefeed-server/internal/videos"
)

// Singleflight groups for deduplicating concurrent requests.
// When multiple goroutines request the same feed simultaneously,
// only one actually fetches while others wait and share the result.
var (
	popularGroup singleflight.Group
	newGroup     singleflight.Group
)

// fetchPopularShared serves the popular feed through singleflight. The
// popular feed bypasses the response cache for ranking freshness, so it is
// the hottest uncached path in the server; concurrent requests for the same
// page collapse into one engine call.
func fetchPopularShared(ctx context.Context, repo *videos.Repository, limit int, until int64) ([]*types.VideoEvent, error) {
	key := fmt.Sprintf("popular:%d:%d", limit, until)

	result, err, shared := popularGroup.Do(key, func() (interface{}, error) {
		return repo.GetPopularVideos(ctx, limit, until)
	})
	if shared {
		slog.Debug("singleflight: shared popular feed fetch", "limit", limit)
	}
	if err != nil {
		return nil, err
	}
	return result.([]*types.VideoEvent), nil
}

// fetchNewShared serves the global new-videos feed through singleflight.
func fetchNewShared(ctx context.Context, repo *videos.Repository, limit int, until int64) ([]*types.VideoEvent, error) {
	key := fmt.Sprintf("new:%d:%d", limit, until)

	result, err, shared := newGroup.Do(key, func() (interface{}, error) {
		return repo.GetNewVideos(ctx, limit, until)
	})
	if shared {
		slog.Debug("singleflight: shared new feed fetch", "limit", limit)
	}
	if err != nil {
		return nil, err
	}
	return result.([]*types.VideoEvent), nil
}
