package nostr

// Short-video event kinds (NIP-71).
const (
	// KindShortVideo is the short-form vertical video kind.
	KindShortVideo = 22

	// KindAddressableShortVideo is the legacy addressable short video kind,
	// identified by a d-tag and replaceable by newer versions.
	KindAddressableShortVideo = 34236
)

// videoKinds is the fixed set of kinds treated as playable short videos.
var videoKinds = map[int]bool{
	KindShortVideo:            true,
	KindAddressableShortVideo: true,
}

// IsVideoKind reports whether the kind is a recognized short-video kind.
func IsVideoKind(kind int) bool {
	return videoKinds[kind]
}

// VideoKinds returns the recognized short-video kinds for use in relay filters.
func VideoKinds() []int {
	return []int{KindShortVideo, KindAddressableShortVideo}
}

// IsAddressableKind reports whether the kind uses d-tag addressing (3xxxx range).
func IsAddressableKind(kind int) bool {
	return kind >= 30000 && kind < 40000
}
