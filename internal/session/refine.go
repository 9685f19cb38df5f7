package session

import (
	"context"
	"regexp"
	"strings"
	"time"

	"mynewslens/internal/llm"
	"mynewslens/internal/observability/metrics"
)

const refineSystemPrompt = `You are a conversational news presenter. Given an article's headline and bullets, rewrite them as a short spoken-style introduction.
Respond in exactly this shape, nothing else:
TITLE: <one short conversational line>
SUMMARY: <two to three sentences>`

// noteParenthetical strips a trailing "(Note: ...)" aside some models add
// despite the strict output shape.
var noteParenthetical = regexp.MustCompile(`\s*\(Note:[^)]*\)\s*$`)

// refineInputMaxChars bounds the article context handed to the refinement
// call, matching the session's conversational-pacing budget rather than a
// full-article context window.
const refineInputMaxChars = 2000

// refine produces a conversational title+summary for a card via an
// interactive LLM call. On any failure, or a response that doesn't match
// the expected shape, it falls back to the original headline and bullets
// untouched — refinement is cosmetic, never blocking.
func refine(ctx context.Context, provider llm.Provider, headline string, bullets []string) (title, summary string) {
	input := headline + "\n" + strings.Join(bullets, " ")
	if len(input) > refineInputMaxChars {
		input = input[:refineInputMaxChars]
	}

	start := time.Now()
	text, _, _, err := provider.Generate(ctx, refineSystemPrompt, input, llm.DefaultTemperature)
	metrics.RecordLLMCall("refine", time.Since(start), err)
	if err != nil {
		return headline, strings.Join(bullets, " ")
	}

	parsedTitle, parsedSummary, ok := parseRefinement(text)
	if !ok {
		return headline, strings.Join(bullets, " ")
	}
	return parsedTitle, parsedSummary
}

// parseRefinement accepts the strict "TITLE:"/"SUMMARY:" shape, with a
// "TITRE:"/"RÉSUMÉ:" fallback for French-language models that ignore the
// English label in the prompt.
func parseRefinement(text string) (title, summary string, ok bool) {
	title, ok = extractLabel(text, "TITLE:", "TITRE:")
	if !ok {
		return "", "", false
	}
	summary, ok = extractLabel(text, "SUMMARY:", "RÉSUMÉ:")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(title), strings.TrimSpace(summary), true
}

func extractLabel(text string, labels ...string) (string, bool) {
	for _, label := range labels {
		idx := strings.Index(text, label)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(label):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		rest = noteParenthetical.ReplaceAllString(rest, "")
		return rest, true
	}
	return "", false
}
