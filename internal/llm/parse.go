package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseJSON extracts a JSON object from an LLM's raw reply: strip code
// fences and parse directly, fall back to the first {...} substring, and
// finally return an empty map with an error if nothing parses.
func ParseJSON(raw string) (map[string]interface{}, error) {
	candidate := strings.TrimSpace(raw)
	if m := codeFencePattern.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &data); err == nil {
		return data, nil
	}

	if start := strings.Index(candidate, "{"); start >= 0 {
		if end := strings.LastIndex(candidate, "}"); end > start {
			if err := json.Unmarshal([]byte(candidate[start:end+1]), &data); err == nil {
				return data, nil
			}
		}
	}

	return map[string]interface{}{}, fmt.Errorf("llm: could not parse JSON from model reply")
}
