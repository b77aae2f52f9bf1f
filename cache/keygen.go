package cache

import (
	"sort"
	"strings"
)

// KeyFor builds a stable cache key from an API path and its query parameters.
// Parameters are sorted so that map iteration order never changes the key.
func KeyFor(path string, params map[string]string) string {
	var parts []string
	for k, v := range params {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)

	if len(parts) > 0 {
		return path + "?" + strings.Join(parts, "&")
	}
	return path
}
