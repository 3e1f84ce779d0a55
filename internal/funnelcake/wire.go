package funnelcake

import "vinefeed-server/internal/types"

type videosResponse struct {
	Videos []*types.VideoStats `json:"videos"`
}

type viewsResponse struct {
	Views int64 `json:"views"`
}

type bulkStatsRequest struct {
	EventIDs []string `json:"event_ids"`
}
