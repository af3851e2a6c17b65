package textutil

import (
	"strings"
	"unicode/utf8"
)

// NormalizeMetadata trims keys and values for provider metadata. Entries with an empty key
// or value are dropped, and keys and values are truncated to maxKey and maxValue runes
// when those are positive.
func NormalizeMetadata(values map[string]string, maxKey, maxValue int) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = truncate(strings.TrimSpace(key), maxKey)
		value = truncate(strings.TrimSpace(value), maxValue)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
