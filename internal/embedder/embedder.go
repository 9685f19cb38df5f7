// Package embedder periodically vectorizes completed articles that have no
// stored embedding yet, and backs the interest-vector updater's
// initialization path for users whose interest tokens have not yet been
// embedded.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mynewslens/internal/domain"
	"mynewslens/internal/llm"
	"mynewslens/internal/observability/metrics"
)

// articleStore is the subset of store.Store the embedder depends on.
type articleStore interface {
	ArticlesWithoutVectors(ctx context.Context, limit int) ([]int64, error)
	GetArticle(ctx context.Context, id int64) (*domain.Article, error)
	GetArticleSummary(ctx context.Context, articleID int64) (*domain.ArticleSummary, error)
	SaveArticleVector(ctx context.Context, articleID int64, vector []float32) error
}

// Embedder vectorizes articles and arbitrary text via the configured
// embedding provider.
type Embedder struct {
	store    articleStore
	provider llm.Provider
}

func New(store articleStore, provider llm.Provider) *Embedder {
	return &Embedder{store: store, provider: provider}
}

// BackfillOnce embeds up to limit articles currently missing a vector. Per
// spec §4.7, the embedding input is
// `title + "\n" + (headline + " " + bullets joined) | first 500 chars of content`.
func (e *Embedder) BackfillOnce(ctx context.Context, limit int) (embedded int, err error) {
	ids, err := e.store.ArticlesWithoutVectors(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list articles without vectors: %w", err)
	}

	for _, id := range ids {
		if err := e.embedOne(ctx, id); err != nil {
			slog.Warn("embedding failed for article, skipping", slog.Int64("article_id", id), slog.Any("error", err))
			continue
		}
		embedded++
	}
	return embedded, nil
}

func (e *Embedder) embedOne(ctx context.Context, articleID int64) error {
	article, err := e.store.GetArticle(ctx, articleID)
	if err != nil {
		return err
	}

	input := article.Title + "\n"
	if summary, err := e.store.GetArticleSummary(ctx, articleID); err == nil {
		input += summary.Headline + " " + strings.Join(summary.Bullets, " ")
	} else {
		input += truncate(article.Content, 500)
	}

	vec, err := e.Embed(ctx, input)
	if err != nil {
		return err
	}
	return e.store.SaveArticleVector(ctx, articleID, vec)
}

// Embed vectorizes arbitrary text (used directly by the interest-vector
// updater to embed a user's interest tokens).
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.provider.Embed(ctx, text)
	metrics.RecordLLMCall("embed", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", domain.ErrLLMTimeout, err)
	}
	return vec, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
