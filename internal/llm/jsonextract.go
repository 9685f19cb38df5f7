package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"mynewslens/internal/domain"
)

// ExtractJSON pulls a JSON object out of an LLM completion that may wrap it
// in markdown code fences, prose, or both, and unmarshals it into v. This is
// the one place every LLM-backed component goes through before trusting a
// vendor response, since models reliably ignore "respond with only JSON".
func ExtractJSON(raw string, v any) error {
	candidate := strings.TrimSpace(raw)

	if fenced, ok := extractFence(candidate, "```json"); ok {
		candidate = fenced
	} else if fenced, ok := extractFence(candidate, "```"); ok {
		candidate = fenced
	}

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	start := strings.IndexByte(candidate, '{')
	end := strings.LastIndexByte(candidate, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object found in response", domain.ErrLLMParse)
	}
	if err := json.Unmarshal([]byte(candidate[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLLMParse, err)
	}
	return nil
}

func extractFence(s, marker string) (string, bool) {
	start := strings.Index(s, marker)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(marker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
