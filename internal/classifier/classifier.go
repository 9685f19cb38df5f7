// Package classifier assigns an article up to 3 categories from the closed
// taxonomy, via a single low-temperature LLM call. Unknown labels are
// silently dropped; an empty result is acceptable.
package classifier

import (
	"context"
	"fmt"
	"time"

	"mynewslens/internal/domain"
	"mynewslens/internal/llm"
	"mynewslens/internal/observability/metrics"
)

const systemPrompt = `Classify the article into up to 3 categories from this closed set: politics, economy, technology, sports, culture, science, local_news, international, faits_divers, health, environment.
Respond with a single strict JSON object: {"categories": ["..."]}. Use only labels from the set above; omit anything that does not fit.`

// temperature is kept low: classification should be a near-deterministic
// label lookup, not a creative task.
const temperature = 0.2

type jsonCategories struct {
	Categories []string `json:"categories"`
}

// Classifier wraps an llm.Provider with the closed-taxonomy contract.
type Classifier struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Classifier {
	return &Classifier{provider: provider}
}

// Classify returns up to 3 valid categories. LLM failures yield an empty
// slice rather than propagating an error — classification never blocks
// the pipeline.
func (c *Classifier) Classify(ctx context.Context, title, content string) []domain.Category {
	start := time.Now()
	userPrompt := fmt.Sprintf("Title: %s\n\nContent:\n%s", title, truncate(content, 4000))

	text, _, _, err := c.provider.Summarize(ctx, systemPrompt, userPrompt, temperature)
	metrics.RecordLLMCall("classify", time.Since(start), err)
	if err != nil {
		return nil
	}

	var parsed jsonCategories
	if extractErr := llm.ExtractJSON(text, &parsed); extractErr != nil {
		return nil
	}

	out := make([]domain.Category, 0, 3)
	for _, raw := range parsed.Categories {
		cat := domain.Category(raw)
		if domain.ValidCategories[cat] {
			out = append(out, cat)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
