// Package pipeline orchestrates the per-article LLM processing chain:
// scrape (excerpts only), summarize, classify, embed, personalize per
// subscriber. Within one
// article the stages run strictly in order; across articles, up to a fixed
// batch runs concurrently with pacing between batches to stay polite to the
// LLM vendor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mynewslens/internal/domain"
	"mynewslens/internal/jobtracker"
)

// batchSize and interBatchDelay implement the teacher's worker-pool pacing
// idiom, sized for per-article LLM calls against a rate-limited vendor.
const (
	batchSize       = 5
	interBatchDelay = 2 * time.Second
)

// scrapeThreshold is the feed-supplied content length below which an
// article is treated as an excerpt and sent to the scraper for its full
// text, per the "scrapes full content when feeds provide only excerpts" rule.
const scrapeThreshold = 500

// pipelineStore is the subset of store.Store the pipeline depends on.
type pipelineStore interface {
	GetArticle(ctx context.Context, id int64) (*domain.Article, error)
	SaveArticleFullContent(ctx context.Context, articleID int64, fullContent string) error
	SaveArticleSummary(ctx context.Context, sum *domain.ArticleSummary) error
	GetArticleSummary(ctx context.Context, articleID int64) (*domain.ArticleSummary, error)
	SaveArticleVector(ctx context.Context, articleID int64, vector []float32) error
	SaveUserArticleSummary(ctx context.Context, uas *domain.UserArticleSummary) error
	ListUsers(ctx context.Context) ([]*domain.User, error)
}

// scraperStage is the subset of scraper.Scraper the pipeline depends on.
type scraperStage interface {
	Extract(ctx context.Context, urlStr string) (string, error)
}

type summarizerStage interface {
	Summarize(ctx context.Context, articleID int64, title, content string) *domain.ArticleSummary
}

type classifierStage interface {
	Classify(ctx context.Context, title, content string) []domain.Category
}

type personalizerStage interface {
	Personalize(ctx context.Context, user *domain.User, article *domain.Article, summary *domain.ArticleSummary) (*domain.UserArticleSummary, error)
}

type embedderStage interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline drives one article from "pending" to fully personalized for
// every subscriber.
type Pipeline struct {
	store        pipelineStore
	tracker      *jobtracker.Tracker
	scraper      scraperStage
	summarizer   summarizerStage
	classifier   classifierStage
	personalizer personalizerStage
	embedder     embedderStage
}

func New(
	store pipelineStore,
	tracker *jobtracker.Tracker,
	scraper scraperStage,
	summarizer summarizerStage,
	classifier classifierStage,
	personalizer personalizerStage,
	embedder embedderStage,
) *Pipeline {
	return &Pipeline{
		store:        store,
		tracker:      tracker,
		scraper:      scraper,
		summarizer:   summarizer,
		classifier:   classifier,
		personalizer: personalizer,
		embedder:     embedder,
	}
}

// ProcessBatch splits articleIDs into batches of batchSize, runs the full
// chain for each batch's articles concurrently, and waits interBatchDelay
// between batches (returning early if ctx is cancelled during that wait).
// It never returns early on a single article's failure — each
// article's errors are logged and absorbed so the rest of the batch still
// advances.
func (p *Pipeline) ProcessBatch(ctx context.Context, articleIDs []int64) {
	batches := chunk(articleIDs, batchSize)
	for i, batch := range batches {
		done := make(chan struct{}, len(batch))
		for _, id := range batch {
			id := id
			go func() {
				defer func() { done <- struct{}{} }()
				p.ProcessArticle(ctx, id)
			}()
		}
		for range batch {
			<-done
		}

		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interBatchDelay):
			}
		}
	}
}

// chunk splits ids into consecutive slices of at most size elements each,
// preserving order. size <= 0 yields a single chunk.
func chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		if len(ids) == 0 {
			return nil
		}
		return [][]int64{ids}
	}
	var batches [][]int64
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}
	return batches
}

// ProcessArticle runs summarize -> classify -> embed -> personalize (per
// subscriber) for a single article, in that strict order.
func (p *Pipeline) ProcessArticle(ctx context.Context, articleID int64) {
	article, err := p.store.GetArticle(ctx, articleID)
	if err != nil {
		slog.Error("pipeline: load article failed", slog.Int64("article_id", articleID), slog.Any("error", err))
		return
	}

	p.scrapeIfExcerpt(ctx, article)

	if err := p.summarize(ctx, article); err != nil {
		slog.Error("pipeline: summarize stage failed", slog.Int64("article_id", articleID), slog.Any("error", err))
		return
	}

	summary, err := p.store.GetArticleSummary(ctx, articleID)
	if err != nil {
		slog.Error("pipeline: load summary after summarize failed", slog.Int64("article_id", articleID), slog.Any("error", err))
		return
	}

	p.classify(ctx, article, summary)

	p.embed(ctx, article, summary)

	p.personalizeForAllUsers(ctx, article, summary)
}

// scrapeIfExcerpt fetches and saves an article's full text when the feed
// only supplied a short excerpt. Extraction failure is degraded, not fatal:
// the rest of the chain falls back to the feed-supplied content.
func (p *Pipeline) scrapeIfExcerpt(ctx context.Context, article *domain.Article) {
	if p.scraper == nil || article.FullContent != "" || len(article.Content) >= scrapeThreshold {
		return
	}
	_ = p.tracker.Run(ctx, "scrape", article.ID, func(ctx context.Context) (string, int, int, error) {
		text, err := p.scraper.Extract(ctx, article.CanonicalURL)
		if err != nil || text == "" {
			return "", 0, 0, err
		}
		article.FullContent = text
		if err := p.store.SaveArticleFullContent(ctx, article.ID, text); err != nil {
			return "", 0, 0, fmt.Errorf("save full content: %w", err)
		}
		return "", 0, 0, nil
	})
}

func (p *Pipeline) summarize(ctx context.Context, article *domain.Article) error {
	return p.tracker.Run(ctx, "summarize", article.ID, func(ctx context.Context) (string, int, int, error) {
		sum := p.summarizer.Summarize(ctx, article.ID, article.Title, bestAvailableContent(article))
		if err := p.store.SaveArticleSummary(ctx, sum); err != nil {
			return sum.Model, sum.PromptTokens, sum.CompletionTokens, fmt.Errorf("save summary: %w", err)
		}
		return sum.Model, sum.PromptTokens, sum.CompletionTokens, nil
	})
}

// classify enriches the already-saved summary with categories. Classifier
// failures never block the pipeline, so this stage's own errors are logged
// rather than propagated.
func (p *Pipeline) classify(ctx context.Context, article *domain.Article, summary *domain.ArticleSummary) {
	_ = p.tracker.Run(ctx, "classify", article.ID, func(ctx context.Context) (string, int, int, error) {
		cats := p.classifier.Classify(ctx, article.Title, bestAvailableContent(article))
		summary.Categories = cats
		if err := p.store.SaveArticleSummary(ctx, summary); err != nil {
			return "", 0, 0, fmt.Errorf("save categories: %w", err)
		}
		return "", 0, 0, nil
	})
}

func (p *Pipeline) embed(ctx context.Context, article *domain.Article, summary *domain.ArticleSummary) {
	_ = p.tracker.Run(ctx, "embed", article.ID, func(ctx context.Context) (string, int, int, error) {
		input := embeddingInput(article, summary)
		v, err := p.embedder.Embed(ctx, input)
		if err != nil {
			return "", 0, 0, err
		}
		if err := p.store.SaveArticleVector(ctx, article.ID, v); err != nil {
			return "", 0, 0, fmt.Errorf("save article vector: %w", err)
		}
		return "", 0, 0, nil
	})
}

// bestAvailableContent prefers the scraper's full text over the feed's own
// excerpt, since the feed-supplied Content is sometimes truncated to a teaser.
func bestAvailableContent(article *domain.Article) string {
	if article.FullContent != "" {
		return article.FullContent
	}
	return article.Content
}

func embeddingInput(article *domain.Article, summary *domain.ArticleSummary) string {
	text := article.Title + "\n"
	if summary != nil && summary.Headline != "" {
		text += summary.Headline + " "
		for _, b := range summary.Bullets {
			text += b + " "
		}
		return text
	}
	content := bestAvailableContent(article)
	if len(content) > 500 {
		content = content[:500]
	}
	return text + content
}

// personalizeForAllUsers runs relevance scoring + rewrite for every current
// user, skipping users below the relevance threshold. One user's failure
// (or irrelevance) never blocks another's.
func (p *Pipeline) personalizeForAllUsers(ctx context.Context, article *domain.Article, summary *domain.ArticleSummary) {
	users, err := p.store.ListUsers(ctx)
	if err != nil {
		slog.Error("pipeline: list users failed", slog.Int64("article_id", article.ID), slog.Any("error", err))
		return
	}

	for _, user := range users {
		uas, err := p.personalizer.Personalize(ctx, user, article, summary)
		if err != nil {
			slog.Warn("pipeline: personalize failed, skipping user", slog.Int64("user_id", user.ID), slog.Int64("article_id", article.ID), slog.Any("error", err))
			continue
		}
		if uas == nil {
			continue
		}
		if err := p.store.SaveUserArticleSummary(ctx, uas); err != nil {
			slog.Warn("pipeline: save personalized summary failed", slog.Int64("user_id", user.ID), slog.Int64("article_id", article.ID), slog.Any("error", err))
		}
	}
}
