package planner

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// ExtractJSONObject recovers the JSON object from a model response that may
// be wrapped in prose or code fences: everything outside the outermost brace
// pair is discarded.
func ExtractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first >= 0 && last > first {
		return trimmed[first : last+1]
	}
	return trimmed
}

// DecodeJSON extracts and unmarshals a JSON object from a model response.
// Failures are logged with a short snippet; the label names the call for
// the log line.
func DecodeJSON(label, raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		log.Printf("[planner] empty response for %s, unable to parse JSON", label)
		return fmt.Errorf("%s: empty response", label)
	}
	if err := json.Unmarshal([]byte(ExtractJSONObject(raw)), out); err != nil {
		log.Printf("[planner] failed to parse %s response as JSON, snippet: %s",
			label, snippet(raw, 240))
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}

// ToJSON serializes a value for prompt embedding, indented for readability.
func ToJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf("%q", "serialization failed: "+err.Error())
	}
	return string(data)
}

func snippet(value string, max int) string {
	normalized := strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(normalized) <= max {
		return normalized
	}
	return normalized[:max] + "..."
}
