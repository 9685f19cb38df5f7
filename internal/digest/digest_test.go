package digest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewslens/internal/domain"
)

func TestReadingBudgetWords_ClampsToMinimum(t *testing.T) {
	assert.Equal(t, minReadingBudgetWords, readingBudgetWords(10, 200))
}

func TestReadingBudgetWords_ClampsToMaximum(t *testing.T) {
	assert.Equal(t, maxReadingBudgetWords, readingBudgetWords(100000, 200))
}

func TestReadingBudgetWords_HalfOfSessionMinutesTimesSpeed(t *testing.T) {
	// 20 minutes, 200 wpm: budget = (20/2)*200 = 2000 words.
	assert.Equal(t, 2000, readingBudgetWords(1200, 200))
}

func TestReadingBudgetWords_DefaultsSpeedWhenZero(t *testing.T) {
	withZero := readingBudgetWords(1200, 0)
	withDefault := readingBudgetWords(1200, 200)
	assert.Equal(t, withDefault, withZero)
}

func TestEstimatedArticleCount_ClampsToBounds(t *testing.T) {
	assert.Equal(t, minArticleEstimate, estimatedArticleCount(0))
	assert.Equal(t, maxArticleEstimate, estimatedArticleCount(100000))
	assert.Equal(t, 5, estimatedArticleCount(5*wordsPerArticle))
}

func TestWordCount_SumsHeadlineBulletsAndDetails(t *testing.T) {
	summary := &domain.UserArticleSummary{
		PersonalizedHeadline: "two words",
		PersonalizedBullets:  []string{"three word bullet", "one"},
		PersonalizedDetails:  "a b c d",
	}
	assert.Equal(t, 2+3+1+4, wordCount(summary))
}

func TestSplitWords_HandlesWhitespaceVariants(t *testing.T) {
	words := splitWords("hello\tworld\nfoo  bar")
	assert.Equal(t, []string{"hello", "world", "foo", "bar"}, words)
}

func TestSplitWords_Empty(t *testing.T) {
	assert.Empty(t, splitWords(""))
	assert.Empty(t, splitWords("   "))
}

func TestSortByScoreDesc(t *testing.T) {
	cards := []Card{{Score: 0.2}, {Score: 0.9}, {Score: 0.5}}
	sortByScoreDesc(cards)
	assert.Equal(t, []float64{0.9, 0.5, 0.2}, []float64{cards[0].Score, cards[1].Score, cards[2].Score})
}

// stubDigestStore is an in-memory digestStore double.
type stubDigestStore struct {
	candidates       []*domain.UserArticleSummary
	articles         map[int64]*domain.Article
	userVector       []float32
	articleVectors   map[int64][]float32
	primaryFeed      map[int64]int64
	avgIntervalSecs  map[int64]float64
	summaries        map[int64]*domain.ArticleSummary
	preferences      []*domain.UserPreference
}

func (s *stubDigestStore) GetUserVector(_ context.Context, _ int64) ([]float32, error) {
	return s.userVector, nil
}

func (s *stubDigestStore) GetArticleVector(_ context.Context, articleID int64) ([]float32, error) {
	v, ok := s.articleVectors[articleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (s *stubDigestStore) GetArticle(_ context.Context, id int64) (*domain.Article, error) {
	a, ok := s.articles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (s *stubDigestStore) DigestCandidates(_ context.Context, _ int64, _ int) ([]*domain.UserArticleSummary, error) {
	return s.candidates, nil
}

func (s *stubDigestStore) PrimaryFeedForArticle(_ context.Context, articleID int64) (int64, error) {
	feedID, ok := s.primaryFeed[articleID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return feedID, nil
}

func (s *stubDigestStore) AveragePublicationIntervalSeconds(_ context.Context, feedID int64) (float64, error) {
	secs, ok := s.avgIntervalSecs[feedID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return secs, nil
}

func (s *stubDigestStore) GetArticleSummary(_ context.Context, articleID int64) (*domain.ArticleSummary, error) {
	sum, ok := s.summaries[articleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sum, nil
}

func (s *stubDigestStore) ListPreferences(_ context.Context, _ int64) ([]*domain.UserPreference, error) {
	return s.preferences, nil
}

func TestAssemble_StopsAtBudgetWithMinimumThreeArticles(t *testing.T) {
	store := &stubDigestStore{
		articles:       map[int64]*domain.Article{},
		articleVectors: map[int64][]float32{},
		primaryFeed:    map[int64]int64{},
		avgIntervalSecs: map[int64]float64{},
	}
	now := time.Now()
	for i := int64(1); i <= 5; i++ {
		store.articles[i] = &domain.Article{ID: i, FirstSeenAt: now}
		store.candidates = append(store.candidates, &domain.UserArticleSummary{
			ArticleID:            i,
			IsRelevant:           true,
			RelevanceScore:       0.5,
			PersonalizedHeadline: "headline word count filler text here for the test case itself",
		})
	}

	a := New(store)
	user := &domain.User{ID: 1, ReadingSpeedWPM: 200}

	cards, err := a.Assemble(context.Background(), user, 60) // tiny budget
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(cards), 3)
}

func TestAssemble_SkipsArticlesThatFailToLoad(t *testing.T) {
	store := &stubDigestStore{
		articles: map[int64]*domain.Article{
			1: {ID: 1, FirstSeenAt: time.Now()},
		},
		articleVectors:  map[int64][]float32{},
		primaryFeed:     map[int64]int64{},
		avgIntervalSecs: map[int64]float64{},
		candidates: []*domain.UserArticleSummary{
			{ArticleID: 1, RelevanceScore: 0.8, PersonalizedHeadline: "present article"},
			{ArticleID: 2, RelevanceScore: 0.9, PersonalizedHeadline: "missing article"},
		},
	}

	a := New(store)
	user := &domain.User{ID: 1, ReadingSpeedWPM: 200}

	cards, err := a.Assemble(context.Background(), user, 600)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, int64(1), cards[0].Article.ID)
}

func TestScore_UsesNeutralSemanticScoreWithoutVectors(t *testing.T) {
	store := &stubDigestStore{
		articles:        map[int64]*domain.Article{},
		articleVectors:  map[int64][]float32{},
		primaryFeed:     map[int64]int64{},
		avgIntervalSecs: map[int64]float64{},
	}
	a := New(store)
	user := &domain.User{ID: 1}
	article := &domain.Article{ID: 1, FirstSeenAt: time.Now()}
	summary := &domain.UserArticleSummary{RelevanceScore: 1.0}

	score, err := a.score(context.Background(), user, nil, summary, article, nil)
	require.NoError(t, err)
	// relevanceWeight*1.0 + semanticWeight*0.5, decay ~= 1 (age ~0).
	expected := relevanceWeight*1.0 + semanticWeight*neutralSemanticScore
	assert.InDelta(t, expected, score, 0.01)
}

func TestScore_FallsBackToLegacyScoreWithoutHalfLifeHistory(t *testing.T) {
	store := &stubDigestStore{
		articles:        map[int64]*domain.Article{},
		articleVectors:  map[int64][]float32{},
		primaryFeed:     map[int64]int64{},
		avgIntervalSecs: map[int64]float64{},
		summaries: map[int64]*domain.ArticleSummary{
			1: {ArticleID: 1, Categories: []domain.Category{domain.CategoryTechnology}},
		},
		preferences: []*domain.UserPreference{
			{PreferenceType: domain.PreferenceCategoryFilter, PreferenceKey: "technology", PreferenceValue: 0.5},
		},
	}
	a := New(store)
	user := &domain.User{ID: 1}
	now := time.Now()
	article := &domain.Article{ID: 1, PublishedAt: &now}
	summary := &domain.UserArticleSummary{RelevanceScore: 0.2} // would be irrelevant under the blended scorer

	score, err := a.score(context.Background(), user, nil, summary, article, a.categoryWeights(context.Background(), user.ID))
	require.NoError(t, err)
	// base 1.0 + near-full recency boost (~1.2) + category weight 0.5.
	assert.Greater(t, score, 2.0)
}

func TestScore_LegacyScoreBlocksOnNegativeCategoryWeight(t *testing.T) {
	store := &stubDigestStore{
		articles:        map[int64]*domain.Article{},
		articleVectors:  map[int64][]float32{},
		primaryFeed:     map[int64]int64{},
		avgIntervalSecs: map[int64]float64{},
		summaries: map[int64]*domain.ArticleSummary{
			1: {ArticleID: 1, Categories: []domain.Category{domain.CategorySports}},
		},
		preferences: []*domain.UserPreference{
			{PreferenceType: domain.PreferenceCategoryFilter, PreferenceKey: "sports", PreferenceValue: -1},
		},
	}
	a := New(store)
	user := &domain.User{ID: 1}
	now := time.Now()
	article := &domain.Article{ID: 1, PublishedAt: &now}
	summary := &domain.UserArticleSummary{RelevanceScore: 0.9}

	_, err := a.score(context.Background(), user, nil, summary, article, a.categoryWeights(context.Background(), user.ID))
	assert.Error(t, err)
}

func TestLegacyScore_RecencyBoostDecaysToZeroAfter24Hours(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	article := &domain.Article{ID: 1, PublishedAt: &old}

	score, blocked := LegacyScore(article, nil, nil)
	assert.False(t, blocked)
	assert.Equal(t, legacyBaseScore, score)
}

func TestLegacyScore_UnmatchedCategoryContributesNothing(t *testing.T) {
	now := time.Now()
	article := &domain.Article{ID: 1, PublishedAt: &now}

	score, blocked := LegacyScore(article, []domain.Category{domain.CategoryScience}, map[domain.Category]float64{"technology": 0.5})
	assert.False(t, blocked)
	assert.Greater(t, score, legacyBaseScore)
}
