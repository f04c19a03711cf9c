package utils

import "strings"

// SplitList splits a comma separated value such as ALLOWED_ORIGINS or a
// skills query, trimming entries and dropping empty ones.
func SplitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
