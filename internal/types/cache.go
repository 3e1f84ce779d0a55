package types

// CachedEventResult wraps a relay query result for the response cache.
type CachedEventResult struct {
	Events   []Event `json:"events"`
	EOSE     bool    `json:"eose"`
	CachedAt int64   `json:"cached_at"`
}

// CachedEvent wraps a single event for the persistent event store.
type CachedEvent struct {
	Event    Event `json:"event"`
	CachedAt int64 `json:"cached_at"`
}
