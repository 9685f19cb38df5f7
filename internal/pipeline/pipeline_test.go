package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewslens/internal/domain"
	"mynewslens/internal/jobtracker"
)

// stubStore is a minimal in-memory pipelineStore + jobStore double, grounded
// on the teacher's stubRepo pattern (usecase/article/service_test.go).
type stubStore struct {
	articles     map[int64]*domain.Article
	summaries    map[int64]*domain.ArticleSummary
	vectors      map[int64][]float32
	fullContent  map[int64]string
	users        []*domain.User
	nextJobID    int64
	completedUAS []*domain.UserArticleSummary
}

func newStubStore() *stubStore {
	return &stubStore{
		articles:    map[int64]*domain.Article{},
		summaries:   map[int64]*domain.ArticleSummary{},
		vectors:     map[int64][]float32{},
		fullContent: map[int64]string{},
	}
}

func (s *stubStore) GetArticle(_ context.Context, id int64) (*domain.Article, error) {
	a, ok := s.articles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (s *stubStore) SaveArticleFullContent(_ context.Context, articleID int64, fullContent string) error {
	s.fullContent[articleID] = fullContent
	return nil
}

func (s *stubStore) SaveArticleSummary(_ context.Context, sum *domain.ArticleSummary) error {
	s.summaries[sum.ArticleID] = sum
	return nil
}

func (s *stubStore) GetArticleSummary(_ context.Context, articleID int64) (*domain.ArticleSummary, error) {
	sum, ok := s.summaries[articleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sum, nil
}

func (s *stubStore) SaveArticleVector(_ context.Context, articleID int64, vector []float32) error {
	s.vectors[articleID] = vector
	return nil
}

func (s *stubStore) SaveUserArticleSummary(_ context.Context, uas *domain.UserArticleSummary) error {
	s.completedUAS = append(s.completedUAS, uas)
	return nil
}

func (s *stubStore) ListUsers(_ context.Context) ([]*domain.User, error) {
	return s.users, nil
}

func (s *stubStore) CreateJob(_ context.Context, _ *domain.ProcessingJob) (int64, error) {
	s.nextJobID++
	return s.nextJobID, nil
}

func (s *stubStore) StartJob(_ context.Context, _ int64) error { return nil }

func (s *stubStore) CompleteJob(_ context.Context, _ int64, _ domain.ProcessingStatus, _, _ string, _, _ int, _ int64) error {
	return nil
}

func (s *stubStore) ListJobsForEntity(_ context.Context, _ string, _ int64) ([]*domain.ProcessingJob, error) {
	return nil, nil
}

func (s *stubStore) TransitionProcessingStatus(_ context.Context, _ int64, _ []domain.ProcessingStatus, _ domain.ProcessingStatus) error {
	return nil
}

type stubScraper struct {
	text string
	err  error
}

func (s *stubScraper) Extract(_ context.Context, _ string) (string, error) {
	return s.text, s.err
}

type stubSummarizer struct {
	lastContent string
}

func (s *stubSummarizer) Summarize(_ context.Context, articleID int64, title, content string) *domain.ArticleSummary {
	s.lastContent = content
	return &domain.ArticleSummary{ArticleID: articleID, Headline: title, Model: "stub-model"}
}

type stubClassifier struct {
	lastContent string
}

func (c *stubClassifier) Classify(_ context.Context, _, content string) []domain.Category {
	c.lastContent = content
	return []domain.Category{domain.CategoryTechnology}
}

type stubPersonalizer struct{}

func (stubPersonalizer) Personalize(_ context.Context, user *domain.User, article *domain.Article, summary *domain.ArticleSummary) (*domain.UserArticleSummary, error) {
	return &domain.UserArticleSummary{UserID: user.ID, ArticleID: article.ID, IsRelevant: true}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func newTestPipeline(store *stubStore, scraper scraperStage) *Pipeline {
	return New(store, jobtracker.New(store), scraper, &stubSummarizer{}, &stubClassifier{}, stubPersonalizer{}, stubEmbedder{})
}

func TestBestAvailableContent_PrefersFullContent(t *testing.T) {
	a := &domain.Article{Content: "short excerpt", FullContent: "the full scraped article body"}
	assert.Equal(t, "the full scraped article body", bestAvailableContent(a))
}

func TestBestAvailableContent_FallsBackToFeedContent(t *testing.T) {
	a := &domain.Article{Content: "short excerpt"}
	assert.Equal(t, "short excerpt", bestAvailableContent(a))
}

func TestScrapeIfExcerpt_ScrapesShortContent(t *testing.T) {
	store := newStubStore()
	article := &domain.Article{ID: 1, CanonicalURL: "https://example.com/a", Content: "too short"}
	store.articles[1] = article

	p := newTestPipeline(store, &stubScraper{text: "a much longer scraped body that clears the excerpt threshold easily"})

	p.scrapeIfExcerpt(context.Background(), article)

	assert.Equal(t, "a much longer scraped body that clears the excerpt threshold easily", article.FullContent)
	assert.Equal(t, article.FullContent, store.fullContent[1])
}

func TestScrapeIfExcerpt_SkipsLongContent(t *testing.T) {
	store := newStubStore()
	longContent := make([]byte, scrapeThreshold)
	for i := range longContent {
		longContent[i] = 'x'
	}
	article := &domain.Article{ID: 1, CanonicalURL: "https://example.com/a", Content: string(longContent)}
	store.articles[1] = article

	scraper := &stubScraper{text: "should never be called"}
	p := newTestPipeline(store, scraper)

	p.scrapeIfExcerpt(context.Background(), article)

	assert.Empty(t, article.FullContent)
	assert.Empty(t, store.fullContent[1])
}

func TestScrapeIfExcerpt_DegradesOnScraperFailure(t *testing.T) {
	store := newStubStore()
	article := &domain.Article{ID: 1, CanonicalURL: "https://example.com/a", Content: "short"}
	store.articles[1] = article

	p := newTestPipeline(store, &stubScraper{err: errors.New("connection refused")})

	require.NotPanics(t, func() {
		p.scrapeIfExcerpt(context.Background(), article)
	})

	assert.Empty(t, article.FullContent)
}

func TestScrapeIfExcerpt_NoScraperConfigured(t *testing.T) {
	store := newStubStore()
	article := &domain.Article{ID: 1, CanonicalURL: "https://example.com/a", Content: "short"}
	store.articles[1] = article

	p := newTestPipeline(store, nil)

	require.NotPanics(t, func() {
		p.scrapeIfExcerpt(context.Background(), article)
	})
	assert.Empty(t, article.FullContent)
}

func TestProcessArticle_UsesScrapedContentForSummarizeAndClassify(t *testing.T) {
	store := newStubStore()
	article := &domain.Article{ID: 1, CanonicalURL: "https://example.com/a", Title: "Title", Content: "short excerpt"}
	store.articles[1] = article
	store.users = []*domain.User{{ID: 1, Username: "alice"}}

	scraped := "the full article body, long enough to clear the excerpt threshold, repeated. " +
		"the full article body, long enough to clear the excerpt threshold, repeated. " +
		"the full article body, long enough to clear the excerpt threshold, repeated. " +
		"the full article body, long enough to clear the excerpt threshold, repeated. " +
		"the full article body, long enough to clear the excerpt threshold, repeated. " +
		"the full article body, long enough to clear the excerpt threshold, repeated."
	summarizer := &stubSummarizer{}
	classifier := &stubClassifier{}
	p := New(store, jobtracker.New(store), &stubScraper{text: scraped}, summarizer, classifier, stubPersonalizer{}, stubEmbedder{})

	p.ProcessArticle(context.Background(), 1)

	assert.Equal(t, scraped, summarizer.lastContent)
	assert.Equal(t, scraped, classifier.lastContent)
	require.Len(t, store.completedUAS, 1)
	assert.Equal(t, int64(1), store.completedUAS[0].UserID)
	assert.NotEmpty(t, store.vectors[1])
}

func TestProcessArticle_MissingArticleDoesNotPanic(t *testing.T) {
	store := newStubStore()
	p := newTestPipeline(store, nil)

	require.NotPanics(t, func() {
		p.ProcessArticle(context.Background(), 999)
	})
}

func TestChunk_SplitsIntoBatchSizedGroups(t *testing.T) {
	cases := []struct {
		name string
		ids  []int64
		size int
		want [][]int64
	}{
		{"empty", nil, 5, nil},
		{"under one batch", []int64{1, 2, 3}, 5, [][]int64{{1, 2, 3}}},
		{"exact multiple", []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 5, [][]int64{{1, 2, 3, 4, 5}, {6, 7, 8, 9, 10}}},
		{"trailing partial batch", []int64{1, 2, 3, 4, 5, 6, 7}, 5, [][]int64{{1, 2, 3, 4, 5}, {6, 7}}},
		{"single id", []int64{1}, 5, [][]int64{{1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, chunk(tc.ids, tc.size))
		})
	}
}

func TestProcessBatch_ProcessesAllArticles(t *testing.T) {
	store := newStubStore()
	ids := []int64{1, 2, 3}
	longContent := make([]byte, scrapeThreshold)
	for i := range longContent {
		longContent[i] = 'x'
	}
	for _, id := range ids {
		store.articles[id] = &domain.Article{ID: id, CanonicalURL: "https://example.com/x", Title: "T", Content: string(longContent)}
	}
	p := newTestPipeline(store, nil)

	p.ProcessBatch(context.Background(), ids)

	for _, id := range ids {
		assert.NotNil(t, store.summaries[id])
	}
}
