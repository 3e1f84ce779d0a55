// Package util provides small shared helpers with no domain dependencies.
package util

import (
	"sort"
	"strings"
)

// =============================================================================
// Host Validation Helpers
// =============================================================================

// IsInternalHost checks if a hostname is internal/private and should not be accessed.
// Used to prevent SSRF attacks by blocking requests to internal networks.
func IsInternalHost(host string) bool {
	host = strings.ToLower(host)
	return strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal") ||
		strings.HasSuffix(host, ".onion") ||
		strings.HasSuffix(host, ".localhost")
}

// IsLoopbackHost checks if a hostname resolves to localhost.
func IsLoopbackHost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		host == "[::1]"
}

// =============================================================================
// Slice Utilities
// =============================================================================

// LimitSlice returns at most the first n elements of a slice.
func LimitSlice[T any](slice []T, n int) []T {
	if n <= 0 || len(slice) <= n {
		return slice
	}
	return slice[:n]
}

// SortedCopy returns a sorted copy of a string slice without mutating the input.
func SortedCopy(slice []string) []string {
	sorted := make([]string, len(slice))
	copy(sorted, slice)
	sort.Strings(sorted)
	return sorted
}

// ChunkStrings splits a slice into consecutive chunks of at most size elements.
func ChunkStrings(slice []string, size int) [][]string {
	if size <= 0 || len(slice) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(slice)+size-1)/size)
	for start := 0; start < len(slice); start += size {
		end := start + size
		if end > len(slice) {
			end = len(slice)
		}
		chunks = append(chunks, slice[start:end])
	}
	return chunks
}
