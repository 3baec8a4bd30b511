package advisory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON decodes a JSON document out of free-form advisory text into v.
// Model answers routinely wrap JSON in markdown fences or prose, so the
// parser locates the outermost object or array before unmarshalling. Call
// sites never let the returned error escape; a parse failure routes to the
// deterministic fallback.
func ParseJSON(raw string, v any) error {
	doc := extractDocument(raw)
	if doc == "" {
		return fmt.Errorf("no JSON document in advisory output")
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("decode advisory output: %w", err)
	}
	return nil
}

func extractDocument(raw string) string {
	raw = stripFences(raw)

	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}

	var end int
	if raw[start] == '{' {
		end = strings.LastIndexByte(raw, '}')
	} else {
		end = strings.LastIndexByte(raw, ']')
	}
	if end <= start {
		return ""
	}
	return raw[start : end+1]
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	// Drop the opening fence line and a trailing fence if present.
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[idx+1:]
	}
	if idx := strings.LastIndex(raw, "```"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}

// Clamp01 bounds a score to [0,1]. Advisory-provided probabilities and
// confidence values pass through this before use.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
