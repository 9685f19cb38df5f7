// Package digest assembles a user's reading session: a reading-budget-sized,
// relevance-and-recency-ranked set of articles picked greedily from their
// unread personalized summaries.
package digest

import (
	"context"
	"fmt"
	"math"
	"time"

	"mynewslens/internal/domain"
)

const (
	minReadingBudgetWords = 100
	maxReadingBudgetWords = 3000
	minArticleEstimate    = 3
	maxArticleEstimate    = 15
	wordsPerArticle       = 150
	perFeedCandidateCap   = 30
	overshootToleranceWords = 200

	defaultHalfLifeSeconds = 10 * 24 * 3600 // 10 days, used until a feed has enough history
	minHalfLifeSeconds     = 3600.0         // 1 hour
	maxHalfLifeSeconds     = 365 * 24 * 3600.0

	neutralSemanticScore = 0.5
	relevanceWeight      = 0.4
	semanticWeight       = 0.6
)

// digestStore is the subset of store.Store the assembler depends on.
type digestStore interface {
	GetUserVector(ctx context.Context, userID int64) ([]float32, error)
	GetArticleVector(ctx context.Context, articleID int64) ([]float32, error)
	GetArticle(ctx context.Context, id int64) (*domain.Article, error)
	DigestCandidates(ctx context.Context, userID int64, perFeedCap int) ([]*domain.UserArticleSummary, error)
	PrimaryFeedForArticle(ctx context.Context, articleID int64) (int64, error)
	AveragePublicationIntervalSeconds(ctx context.Context, feedID int64) (float64, error)
	GetArticleSummary(ctx context.Context, articleID int64) (*domain.ArticleSummary, error)
	ListPreferences(ctx context.Context, userID int64) ([]*domain.UserPreference, error)
}

// Assembler builds a bounded, ranked reading list for one session.
type Assembler struct {
	store digestStore
}

func New(store digestStore) *Assembler {
	return &Assembler{store: store}
}

// Card is one scored, ready-to-present digest entry.
type Card struct {
	Summary     *domain.UserArticleSummary
	Article     *domain.Article
	Score       float64
	WordCount   int
}

// Assemble computes the reading budget for a requested session duration and
// greedily fills it with the highest-scoring unread, relevant articles,
// stopping once the budget is met and at least 3 articles are emitted (an
// overshoot of up to 200 words beyond the budget is tolerated so a card is
// never cut mid-way).
func (a *Assembler) Assemble(ctx context.Context, user *domain.User, durationSeconds int) ([]Card, error) {
	budget := readingBudgetWords(durationSeconds, user.ReadingSpeedWPM)
	estimatedCount := estimatedArticleCount(budget)

	candidates, err := a.store.DigestCandidates(ctx, user.ID, perFeedCandidateCap)
	if err != nil {
		return nil, fmt.Errorf("load digest candidates: %w", err)
	}

	userVec, err := a.store.GetUserVector(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load user vector: %w", err)
	}

	categoryWeights := a.categoryWeights(ctx, user.ID)

	scored := make([]Card, 0, len(candidates))
	for _, summary := range candidates {
		article, err := a.store.GetArticle(ctx, summary.ArticleID)
		if err != nil {
			continue
		}
		score, err := a.score(ctx, user, userVec, summary, article, categoryWeights)
		if err != nil {
			continue
		}
		scored = append(scored, Card{
			Summary:   summary,
			Article:   article,
			Score:     score,
			WordCount: wordCount(summary),
		})
	}

	sortByScoreDesc(scored)

	var selected []Card
	words := 0
	for _, c := range scored {
		if words >= budget && len(selected) >= 3 {
			break
		}
		if words >= budget && words+c.WordCount > budget+overshootToleranceWords {
			break
		}
		selected = append(selected, c)
		words += c.WordCount
		if len(selected) >= estimatedCount && words >= budget {
			break
		}
	}
	return selected, nil
}

// score blends a personalized summary's LLM-assessed relevance with its
// semantic closeness to the user's interest vector, then decays it by age.
// Per spec, an absent article or user vector contributes the neutral 0.5
// semantic score rather than whatever domain.CosineDistance's own default
// (distance=1, i.e. similarity=0) would otherwise imply.
//
// A feed with too little publication history to estimate a half-life from
// falls back to LegacyScore instead of guessing at a decay curve, but only
// when the user has category_filter preferences configured to drive it —
// otherwise the half-life-decay path with its 10-day default still applies.
func (a *Assembler) score(ctx context.Context, user *domain.User, userVec []float32, summary *domain.UserArticleSummary, article *domain.Article, categoryWeights map[domain.Category]float64) (float64, error) {
	halfLife, sufficientHistory := a.halfLifeSeconds(ctx, article.ID)
	if !sufficientHistory && len(categoryWeights) > 0 {
		articleSummary, err := a.store.GetArticleSummary(ctx, article.ID)
		if err == nil {
			legacy, blocked := LegacyScore(article, articleSummary.Categories, categoryWeights)
			if blocked {
				return 0, fmt.Errorf("legacy score: blocked by category preference")
			}
			return legacy, nil
		}
	}

	semantic := neutralSemanticScore
	if len(userVec) > 0 {
		if articleVec, err := a.store.GetArticleVector(ctx, article.ID); err == nil && len(articleVec) > 0 {
			distance := domain.CosineDistance(userVec, articleVec)
			semantic = math.Max(0, 1-distance)
		}
	}

	blended := relevanceWeight*summary.RelevanceScore + semanticWeight*semantic

	ageSeconds := 0.0
	if !article.FirstSeenAt.IsZero() {
		if age := time.Since(article.FirstSeenAt).Seconds(); age > 0 {
			ageSeconds = age
		}
	}
	decay := math.Pow(2, -ageSeconds/halfLife)

	return blended * decay, nil
}

// halfLifeSeconds returns a feed's content half-life: 10x its average
// publication interval, clamped to [1h, 1y], defaulting to 10 days when the
// feed has too little history to estimate a cadence yet. The second return
// value reports whether the estimate came from real history.
func (a *Assembler) halfLifeSeconds(ctx context.Context, articleID int64) (float64, bool) {
	feedID, err := a.store.PrimaryFeedForArticle(ctx, articleID)
	if err != nil {
		return defaultHalfLifeSeconds, false
	}
	avgInterval, err := a.store.AveragePublicationIntervalSeconds(ctx, feedID)
	if err != nil || avgInterval <= 0 {
		return defaultHalfLifeSeconds, false
	}
	halfLife := avgInterval * 10
	return math.Max(minHalfLifeSeconds, math.Min(maxHalfLifeSeconds, halfLife)), true
}

// categoryWeights loads a user's category_filter preferences into the map
// LegacyScore expects. Absent or unreadable preferences yield an empty map,
// which disables the legacy fallback entirely (score always uses the
// half-life-decay path in that case).
func (a *Assembler) categoryWeights(ctx context.Context, userID int64) map[domain.Category]float64 {
	prefs, err := a.store.ListPreferences(ctx, userID)
	if err != nil {
		return nil
	}
	weights := make(map[domain.Category]float64)
	for _, p := range prefs {
		if p.PreferenceType != domain.PreferenceCategoryFilter {
			continue
		}
		weights[domain.Category(p.PreferenceKey)] = p.PreferenceValue
	}
	return weights
}

// recencyBoostWindowHours bounds the recency boost LegacyScore applies: an
// article published right now gets the full boost, one published 24h ago or
// earlier gets none.
const recencyBoostWindowHours = 24.0
const recencyBoostPerHour = 0.05
const legacyBaseScore = 1.0

// LegacyScore reproduces the original press-review scorer this project's
// half-life-decay scoring replaced: a base score of 1.0, a recency boost of
// up to +1.2 for articles less than 24h old, and per-category weight deltas
// from the user's category_filter preferences. Any matched category with a
// negative weight hard-blocks the article (blocked=true) regardless of the
// accumulated score. Kept as a fallback for feeds too new to have an
// average-publication-interval estimate yet.
func LegacyScore(article *domain.Article, categories []domain.Category, categoryWeights map[domain.Category]float64) (score float64, blocked bool) {
	publishedAt := article.PublishedAt
	if publishedAt == nil || publishedAt.IsZero() {
		publishedAt = &article.FirstSeenAt
	}

	score = legacyBaseScore
	ageHours := time.Since(*publishedAt).Hours()
	if boost := recencyBoostWindowHours - ageHours; boost > 0 {
		score += boost * recencyBoostPerHour
	}

	for _, category := range categories {
		weight, ok := categoryWeights[category]
		if !ok {
			continue
		}
		if weight < 0 {
			return 0, true
		}
		score += weight
	}

	return score, false
}

// readingBudgetWords converts a requested session duration into a target
// word count: half the session's minutes, times the user's reading speed,
// clamped to [100, 3000].
func readingBudgetWords(durationSeconds int, readingSpeedWPM int) int {
	if readingSpeedWPM <= 0 {
		readingSpeedWPM = 200
	}
	minutes := float64(durationSeconds) / 60.0
	words := (minutes / 2.0) * float64(readingSpeedWPM)
	if words < minReadingBudgetWords {
		return minReadingBudgetWords
	}
	if words > maxReadingBudgetWords {
		return maxReadingBudgetWords
	}
	return int(words)
}

// estimatedArticleCount approximates how many articles of typical length
// fill the budget, clamped to [3, 15].
func estimatedArticleCount(budgetWords int) int {
	count := budgetWords / wordsPerArticle
	if count < minArticleEstimate {
		return minArticleEstimate
	}
	if count > maxArticleEstimate {
		return maxArticleEstimate
	}
	return count
}

func wordCount(summary *domain.UserArticleSummary) int {
	n := len(splitWords(summary.PersonalizedHeadline))
	for _, b := range summary.PersonalizedBullets {
		n += len(splitWords(b))
	}
	n += len(splitWords(summary.PersonalizedDetails))
	return n
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func sortByScoreDesc(cards []Card) {
	for i := 1; i < len(cards); i++ {
		for j := i; j > 0 && cards[j].Score > cards[j-1].Score; j-- {
			cards[j], cards[j-1] = cards[j-1], cards[j]
		}
	}
}
