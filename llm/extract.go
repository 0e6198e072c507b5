package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no JSON value can be found in a reply.
var ErrNoJSON = errors.New("llm: no json in reply")

// TrimFences removes a surrounding ``` or ```json code fence.
func TrimFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	if strings.HasPrefix(strings.ToLower(trimmed), "json") {
		if idx := strings.Index(trimmed, "\n"); idx != -1 {
			trimmed = trimmed[idx+1:]
		} else {
			trimmed = ""
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// ExtractJSON finds the JSON document in a model reply. It tries, in order,
// the reply itself, the first fenced block, then the outermost {...} or
// [...] span.
func ExtractJSON(reply string) (json.RawMessage, error) {
	var candidates []string
	candidates = append(candidates, TrimFences(reply))
	if block, ok := fencedBlock(reply); ok {
		candidates = append(candidates, block)
	}
	obj, okObj := between(reply, '{', '}')
	arr, okArr := between(reply, '[', ']')
	// Whichever opens first encloses the other.
	if okArr && (!okObj || strings.IndexByte(reply, '[') < strings.IndexByte(reply, '{')) {
		candidates = append(candidates, arr)
	}
	if okObj {
		candidates = append(candidates, obj)
	}
	if okArr {
		candidates = append(candidates, arr)
	}

	for _, c := range candidates {
		if c != "" && json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
	}
	return nil, ErrNoJSON
}

func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start:]
	end := strings.Index(rest[3:], "```")
	if end < 0 {
		return "", false
	}
	return TrimFences(rest[:end+6]), true
}

func between(s string, open, close byte) (string, bool) {
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i < 0 || j <= i {
		return "", false
	}
	return s[i : j+1], true
}
