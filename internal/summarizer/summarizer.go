// Package summarizer produces the single generic ArticleSummary for an
// article: a strict-JSON LLM call with an extractive fallback so an article
// always advances through the pipeline even when the LLM call fails.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mynewslens/internal/domain"
	"mynewslens/internal/llm"
	"mynewslens/internal/observability/metrics"
)

const systemPrompt = `You are a news summarization assistant. Given an article, respond with a single strict JSON object and nothing else:
{"headline": "...", "bullets": ["...", "..."], "details": "..."}
Write in the same language as the article. headline must be at most 100 characters. bullets must be an array of 3 to 7 short items. details is optional, up to 1000 characters.`

// temperature is lower than the interactive chat default: summaries should
// be consistent restatements of the article, not creative rewrites.
const temperature = 0.5

type jsonSummary struct {
	Headline string   `json:"headline"`
	Bullets  []string `json:"bullets"`
	Details  string   `json:"details"`
}

// Summarizer wraps an llm.Provider with the strict-JSON contract and its
// extractive fallback.
type Summarizer struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Summarizer {
	return &Summarizer{provider: provider}
}

// Summarize produces an ArticleSummary for the given title+content. On any
// LLM failure it falls back to an extractive summary instead of propagating
// the error — summarization never blocks the pipeline.
func (s *Summarizer) Summarize(ctx context.Context, articleID int64, title, content string) *domain.ArticleSummary {
	start := time.Now()
	userPrompt := fmt.Sprintf("Title: %s\n\nContent:\n%s", title, content)

	text, promptTokens, completionTokens, err := s.provider.Summarize(ctx, systemPrompt, userPrompt, temperature)
	if err == nil {
		var parsed jsonSummary
		if extractErr := llm.ExtractJSON(text, &parsed); extractErr == nil && len(parsed.Bullets) >= 3 && len(parsed.Bullets) <= 7 {
			metrics.RecordLLMCall("summarize", time.Since(start), nil)
			return &domain.ArticleSummary{
				ArticleID:        articleID,
				Headline:         truncateRunes(parsed.Headline, 100),
				Bullets:          parsed.Bullets,
				Details:          truncateRunes(parsed.Details, 1000),
				Model:            "llm",
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
			}
		}
		err = fmt.Errorf("%w: malformed summary JSON", domain.ErrLLMParse)
	}

	metrics.RecordLLMCall("summarize", time.Since(start), err)
	metrics.SummarizerFallbackTotal.Inc()
	return extractiveSummary(articleID, content)
}

// extractiveSummary implements the deterministic fallback: first sentence as
// headline, next five sentences as bullets, up to 1000 chars as details.
func extractiveSummary(articleID int64, content string) *domain.ArticleSummary {
	sentences := splitSentences(content)

	headline := ""
	if len(sentences) > 0 {
		headline = truncateWithEllipsis(sentences[0], 100)
	}

	var bullets []string
	for i := 1; i < len(sentences) && len(bullets) < 5; i++ {
		bullets = append(bullets, truncateWithEllipsis(sentences[i], 200))
	}
	if len(bullets) == 0 && headline != "" {
		bullets = []string{headline}
	}

	return &domain.ArticleSummary{
		ArticleID: articleID,
		Headline:  headline,
		Bullets:   bullets,
		Details:   truncateRunes(content, 1000),
		Model:     "extractive",
	}
}

// splitSentences performs a simple terminator-based split; it is a
// deliberately crude heuristic, not a language-aware tokenizer.
func splitSentences(text string) []string {
	var sentences []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '。' {
			s := strings.TrimSpace(sb.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if rest := strings.TrimSpace(sb.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func truncateWithEllipsis(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
