package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject means a free-text reply contained no complete JSON object.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// ParseError reports a synthesis reply that could not be decoded.
type ParseError struct {
	Provider string
	Snippet  string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable JSON response (%v): %q", e.Provider, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeJSON decodes a JSON reply into v, tolerating markdown code fences.
func DecodeJSON(provider, text string, v any) error {
	body := stripFences(text)
	if body == "" {
		return &ParseError{Provider: provider, Err: errors.New("empty response")}
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &ParseError{Provider: provider, Snippet: snippet(body), Err: err}
	}
	return nil
}

// DecodeEmbeddedJSON extracts the first top-level JSON object from free text
// and decodes it into v.
func DecodeEmbeddedJSON(provider, text string, v any) error {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return &ParseError{Provider: provider, Snippet: snippet(text), Err: ErrNoJSONObject}
	}
	return DecodeJSON(provider, obj, v)
}

// ExtractJSONObject returns the substring from the first '{' to its matching
// '}'. Braces inside JSON strings are ignored. ok is false when there is no
// '{' or it is never closed.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFences removes a surrounding ``` or ```json fence.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

func snippet(s string) string {
	const max = 200
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
