package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractResult reports how the JSON was recovered from the response
type ExtractResult int

const (
	// ParsedStrict means the content parsed as-is
	ParsedStrict ExtractResult = iota
	// ParsedSalvaged means a fallback (fence stripping or brace
	// scanning) was needed
	ParsedSalvaged
)

// ExtractArray pulls a JSON array out of model output. Fallback chain:
// strict parse, fence-stripped parse, then object-by-object brace
// scanning. The scanned salvage keeps whatever objects decode cleanly
// and drops the rest.
func ExtractArray(content string, out interface{}) (ExtractResult, error) {
	trimmed := strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return ParsedStrict, nil
	}

	stripped := stripFences(trimmed)
	if err := json.Unmarshal([]byte(stripped), out); err == nil {
		return ParsedSalvaged, nil
	}

	// Find the outermost array in the prose
	if start := strings.Index(stripped, "["); start >= 0 {
		if end := strings.LastIndex(stripped, "]"); end > start {
			if err := json.Unmarshal([]byte(stripped[start:end+1]), out); err == nil {
				return ParsedSalvaged, nil
			}
		}
	}

	// Last resort: collect individual objects by brace matching
	objects := scanObjects(stripped)
	if len(objects) > 0 {
		joined := "[" + strings.Join(objects, ",") + "]"
		if err := json.Unmarshal([]byte(joined), out); err == nil {
			return ParsedSalvaged, nil
		}
	}

	return ParsedSalvaged, fmt.Errorf("no JSON array found in response")
}

// ExtractObject pulls a single JSON object out of model output
func ExtractObject(content string, out interface{}) (ExtractResult, error) {
	trimmed := strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return ParsedStrict, nil
	}

	stripped := stripFences(trimmed)
	if err := json.Unmarshal([]byte(stripped), out); err == nil {
		return ParsedSalvaged, nil
	}

	for _, obj := range scanObjects(stripped) {
		if err := json.Unmarshal([]byte(obj), out); err == nil {
			return ParsedSalvaged, nil
		}
	}

	return ParsedSalvaged, fmt.Errorf("no JSON object found in response")
}

// stripFences removes a leading/trailing markdown code fence
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// drop the optional language tag on the fence line
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// scanObjects returns complete top-level {...} spans found by brace
// matching, string-literal aware
func scanObjects(s string) []string {
	var objects []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objects = append(objects, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return objects
}
