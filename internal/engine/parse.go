package engine

import (
	"encoding/json"
	"strings"
)

// LLM responses are supposed to be bare JSON but in practice arrive wrapped
// in markdown fences or prose. Both extractors try three strategies in
// order: direct parse, fence-stripped parse, then a scan for the first
// top-level bracket pair. They report ok=false instead of erroring so a
// malformed response degrades one category or one snapshot, never a run.

func extractJSONArray(content string, dest any) bool {
	return extractJSON(content, dest, '[', ']')
}

func extractJSONObject(content string, dest any) bool {
	return extractJSON(content, dest, '{', '}')
}

func extractJSON(content string, dest any, opener, closer byte) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}

	if json.Unmarshal([]byte(content), dest) == nil {
		return true
	}

	stripped := stripFences(content)
	if stripped != content && json.Unmarshal([]byte(stripped), dest) == nil {
		return true
	}

	start := strings.IndexByte(stripped, opener)
	end := strings.LastIndexByte(stripped, closer)
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(stripped[start:end+1]), dest) == nil
}

// stripFences removes a surrounding markdown code fence, tolerating a
// language tag on the opening line.
func stripFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 3 {
		return content
	}
	body := lines[1:]
	for i := len(body) - 1; i >= 0; i-- {
		if strings.TrimSpace(body[i]) == "```" {
			body = body[:i]
			break
		}
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
