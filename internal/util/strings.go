package util

import (
	"slices"
	"strings"
)

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. Used to log a prefix of codes and tokens.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
// Used when de-duplicating RFC 8707 resource identifiers and when matching
// assertion audiences.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// SplitList splits a space-delimited parameter (scope, response_type) into
// its non-empty components, preserving order and dropping duplicates.
func SplitList(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// JoinList is the inverse of SplitList.
func JoinList(items []string) string {
	return strings.Join(items, " ")
}

// NormalizeList sorts the components of a space-delimited parameter so that
// "token id_token" and "id_token token" compare equal.
func NormalizeList(s string) string {
	items := SplitList(s)
	slices.Sort(items)
	return JoinList(items)
}

// IsSubset reports whether every element of subset appears in set.
func IsSubset(subset, set []string) bool {
	for _, s := range subset {
		if !slices.Contains(set, s) {
			return false
		}
	}
	return true
}
