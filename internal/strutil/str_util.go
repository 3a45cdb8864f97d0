/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package strutil contains string helpers shared by the cache key hashing code.
package strutil

import (
	"strings"
	"unsafe"
)

// StringToBytesUnsafe converts string to byte slice without memory allocation.
// The returned slice must not be modified.
func StringToBytesUnsafe(s string) []byte {
	// nolint: gosec // memory optimization to prevent redundant slice copying
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// SplitCommaSeparated splits s by commas, trims spaces and drops empty items.
// Order and duplicates are preserved.
func SplitCommaSeparated(s string) []string {
	var res []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			res = append(res, item)
		}
	}
	return res
}
