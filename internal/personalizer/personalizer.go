// Package personalizer evaluates an article's relevance for a user and, when
// relevant enough, produces a personalized rewrite in the user's language,
// complexity level, and a bullet count scaled to relevance score.
package personalizer

import (
	"context"
	"fmt"
	"time"

	"mynewslens/internal/domain"
	"mynewslens/internal/llm"
	"mynewslens/internal/observability/metrics"
)

// RelevanceThreshold is the minimum score at which a UserArticleSummary is
// persisted at all; below it the article is discarded for this user.
const RelevanceThreshold = 0.3

const relevancePrompt = `Given a user's interests and an article, score how relevant the article is to the user on a scale from 0 to 1, with 1 or 2 short reasons.
Respond with a single strict JSON object: {"score": 0.0, "reasons": ["..."]}.`

const personalizePromptTemplate = `Rewrite the following article summary for this reader, in language "%s" and complexity level "%s", as exactly %d bullet points.
Respond with a single strict JSON object: {"headline": "...", "bullets": ["...", "..."], "details": "..."}.

Original headline: %s
Original bullets: %v
Original details: %s`

// relevanceTemperature keeps the scoring call close to deterministic; the
// rewrite call runs a little warmer since it produces reader-facing prose.
const relevanceTemperature = 0.2
const rewriteTemperature = 0.5

type jsonRelevance struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

type jsonPersonalized struct {
	Headline string   `json:"headline"`
	Bullets  []string `json:"bullets"`
	Details  string   `json:"details"`
}

// Personalizer wraps an llm.Provider with the two-call relevance+rewrite
// contract, each independently falling back to neutral defaults.
type Personalizer struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Personalizer {
	return &Personalizer{provider: provider}
}

// Personalize scores an article's relevance for a user and, if relevant
// enough, produces a personalized rewrite. Returns (nil, nil) when the
// article falls below RelevanceThreshold — the caller must not store
// anything in that case.
func (p *Personalizer) Personalize(ctx context.Context, user *domain.User, article *domain.Article, summary *domain.ArticleSummary) (*domain.UserArticleSummary, error) {
	score, reasons := p.scoreRelevance(ctx, user, article, summary)
	if score < RelevanceThreshold {
		return nil, nil
	}

	bulletCount, length := bulletTarget(score)
	headline, bullets, details := p.rewrite(ctx, user, summary, bulletCount)

	return &domain.UserArticleSummary{
		UserID:               user.ID,
		ArticleID:            article.ID,
		RelevanceScore:       score,
		RelevanceReasons:     reasons,
		IsRelevant:           true,
		PersonalizedHeadline: headline,
		PersonalizedBullets:  bullets,
		PersonalizedDetails:  details,
		Language:             user.PreferredLang,
		ComplexityLevel:      user.ComplexityLevel,
		SummaryLength:        length,
		LLMModel:             "llm",
	}, nil
}

func bulletTarget(score float64) (int, domain.SummaryLength) {
	switch {
	case score > 0.8:
		return 5, domain.LengthLong
	case score > 0.5:
		return 3, domain.LengthMedium
	default:
		return 2, domain.LengthShort
	}
}

// scoreRelevance returns the neutral default (0.5, no reasons) on any LLM
// failure, per the fallback policy — personalization is best-effort and one
// user's failure never blocks another's.
func (p *Personalizer) scoreRelevance(ctx context.Context, user *domain.User, article *domain.Article, summary *domain.ArticleSummary) (float64, []string) {
	start := time.Now()
	userPrompt := fmt.Sprintf("User interests: %v\n\nArticle headline: %s\nArticle bullets: %v", user.Interests, summary.Headline, summary.Bullets)

	text, _, _, err := p.provider.Summarize(ctx, relevancePrompt, userPrompt, relevanceTemperature)
	metrics.RecordLLMCall("personalize_relevance", time.Since(start), err)
	if err != nil {
		return 0.5, nil
	}

	var parsed jsonRelevance
	if extractErr := llm.ExtractJSON(text, &parsed); extractErr != nil || parsed.Score < 0 || parsed.Score > 1 {
		return 0.5, nil
	}
	return parsed.Score, parsed.Reasons
}

// rewrite returns the original summary strings unchanged on any LLM
// failure, per the fallback policy.
func (p *Personalizer) rewrite(ctx context.Context, user *domain.User, summary *domain.ArticleSummary, bulletCount int) (headline string, bullets []string, details string) {
	start := time.Now()
	userPrompt := fmt.Sprintf(personalizePromptTemplate, user.PreferredLang, user.ComplexityLevel, bulletCount, summary.Headline, summary.Bullets, summary.Details)

	text, _, _, err := p.provider.Summarize(ctx, "", userPrompt, rewriteTemperature)
	metrics.RecordLLMCall("personalize_rewrite", time.Since(start), err)
	if err != nil {
		return summary.Headline, summary.Bullets, summary.Details
	}

	var parsed jsonPersonalized
	if extractErr := llm.ExtractJSON(text, &parsed); extractErr != nil || len(parsed.Bullets) == 0 {
		return summary.Headline, summary.Bullets, summary.Details
	}
	return parsed.Headline, parsed.Bullets, parsed.Details
}
