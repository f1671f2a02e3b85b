package ingest

import "strings"

// Normalize lowercases s, trims surrounding whitespace and replaces
// interior whitespace runs with single underscores.
func Normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, "_")
}

// DocumentID derives the stable identity of a submission. The same
// title and owner always map to the same id, which is what makes
// re-submission an upsert instead of a duplicate.
func DocumentID(title, owner string) string {
	return Normalize(title) + "_" + Normalize(owner)
}
