package nostr

import (
	"fmt"
	"strconv"
	"strings"
)

// AId is an addressable event coordinate: kind, author pubkey and the d-tag
// identifier, referencing the latest version of a replaceable event.
type AId struct {
	Kind   int
	PubKey string
	DTag   string
}

// ParseAId parses the canonical "kind:pubkey:dtag" form. The d-tag may itself
// contain colons, so only the first two separators are structural. Malformed
// input returns ok=false, never an error or a panic.
func ParseAId(s string) (AId, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return AId{}, false
	}

	kind, err := strconv.Atoi(parts[0])
	if err != nil || kind < 0 {
		return AId{}, false
	}
	if parts[1] == "" {
		return AId{}, false
	}

	return AId{Kind: kind, PubKey: parts[1], DTag: parts[2]}, true
}

// String serializes the coordinate back to its canonical form.
func (a AId) String() string {
	return fmt.Sprintf("%d:%s:%s", a.Kind, a.PubKey, a.DTag)
}

// LooksLikeAId reports whether a reference string has coordinate shape
// (as opposed to a bare 64-char hex event ID).
func LooksLikeAId(s string) bool {
	_, ok := ParseAId(s)
	return ok
}

// LooksLikeEventID reports whether a reference string is a bare hex event ID.
func LooksLikeEventID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
