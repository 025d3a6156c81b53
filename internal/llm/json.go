package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSON = errors.New("llm: reply contains no JSON object")

// ExtractJSON returns the outermost JSON object in a reply, ignoring code
// fences and surrounding prose.
func ExtractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// DecodeJSON extracts and unmarshals the JSON object in reply into v.
func DecodeJSON(reply string, v any) error {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("llm: decode reply: %w", err)
	}
	return nil
}
