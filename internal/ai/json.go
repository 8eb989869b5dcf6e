package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidJSON = errors.New("model output is not valid JSON")

// StripCodeFence removes a surrounding markdown fence, with or without a
// language tag.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		tag := strings.TrimSpace(text[:newline])
		if tag == "" || !strings.ContainsAny(tag, " {[") {
			text = text[newline+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// ExtractJSON decodes model output into target. It accepts fenced output and
// falls back to the outermost object, then the outermost array.
func ExtractJSON(text string, target any) error {
	text = StripCodeFence(text)
	if text == "" {
		return ErrInvalidJSON
	}
	if err := json.Unmarshal([]byte(text), target); err == nil {
		return nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start == -1 || end <= start {
			continue
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), target); err == nil {
			return nil
		}
	}
	return ErrInvalidJSON
}
