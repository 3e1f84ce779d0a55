// Package types provides shared type definitions used across internal packages.
package types

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// TagValue returns the first value of the first tag with the given name.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	PTags   []string // #p tag filter (mentions)
	ATags   []string // #a tag filter (addressable events)
	DTags   []string // #d tag filter (d-tag for addressable events)
	TTags   []string // #t tag filter (hashtags/topics)
	Search  string   // NIP-50 search query
}

// HasSearch reports whether the filter carries a NIP-50 search directive.
func (f *Filter) HasSearch() bool {
	return f.Search != ""
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}
