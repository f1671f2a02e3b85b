package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Model replies wrap JSON in markdown fences more often than not.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")

// Parse normalizes imperfect extraction output into a complete map over
// keys. It never fails: the strategies run in order (direct section map,
// fenced JSON block, first-{ to last-} span) and any key still
// unresolved is filled with the NotFound sentinel. Malformed JSON at any
// stage means "section not found", never an error.
func Parse(out Output, keys []string) map[string]string {
	// Fast path: the extractor already produced every key with content.
	if complete(out.Sections, keys) {
		result := make(map[string]string, len(keys))
		for _, k := range keys {
			result[k] = out.Sections[k]
		}
		return result
	}

	if out.RawResponse != "" {
		if m, ok := parseFenced(out.RawResponse); ok {
			return fill(m, out.Sections, keys)
		}
		if m, ok := parseBraceSpan(out.RawResponse); ok {
			return fill(m, out.Sections, keys)
		}
	}

	return fill(nil, out.Sections, keys)
}

// ParseSections runs Parse over the standard section keys and returns the
// fixed-field form.
func ParseSections(out Output) Sections {
	return SectionsFromMap(Parse(out, SectionKeys))
}

// ParseObject recovers a JSON object from raw model text using the same
// strategy chain as Parse. It is shared with the scoring engine, whose
// rubric replies suffer the same fencing habits.
func ParseObject(raw string) (map[string]any, bool) {
	if m, ok := parseObject(raw); ok {
		return m, true
	}
	if match := fencedBlock.FindStringSubmatch(raw); match != nil {
		if m, ok := parseObject(match[1]); ok {
			return m, true
		}
	}
	if span, ok := braceSpan(raw); ok {
		return parseObject(span)
	}
	return nil, false
}

func complete(sections map[string]string, keys []string) bool {
	for _, k := range keys {
		if !IsFound(sections[k]) {
			return false
		}
	}
	return len(keys) > 0
}

func parseFenced(raw string) (map[string]string, bool) {
	match := fencedBlock.FindStringSubmatch(raw)
	if match == nil {
		return nil, false
	}
	m, ok := parseObject(match[1])
	if !ok {
		return nil, false
	}
	return stringValues(m), true
}

func parseBraceSpan(raw string) (map[string]string, bool) {
	span, ok := braceSpan(raw)
	if !ok {
		return nil, false
	}
	m, ok := parseObject(span)
	if !ok {
		return nil, false
	}
	return stringValues(m), true
}

func braceSpan(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func parseObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &m); err != nil {
		return nil, false
	}
	return m, true
}

// fill resolves each key from salvaged first, then the original sections,
// then the sentinel.
func fill(salvaged map[string]string, original map[string]string, keys []string) map[string]string {
	result := make(map[string]string, len(keys))
	for _, k := range keys {
		switch {
		case IsFound(salvaged[k]):
			result[k] = salvaged[k]
		case IsFound(original[k]):
			result[k] = original[k]
		default:
			result[k] = NotFound
		}
	}
	return result
}
