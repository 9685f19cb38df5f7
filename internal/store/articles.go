package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"mynewslens/internal/domain"
)

// UpsertArticleByURL inserts a new Article keyed by canonical URL, or returns
// the existing row's id when the URL has been seen before. The boolean
// return is true only when a new row was created, so callers can decide
// whether the full processing pipeline needs to run at all.
func (s *Store) UpsertArticleByURL(ctx context.Context, a *domain.Article) (id int64, wasNew bool, err error) {
	err = withTiming("upsert_article", func() error {
		res, execErr := s.cb.ExecContext(ctx, `
			INSERT INTO articles (canonical_url, title, content, full_content, published_at, first_seen_at, processing_status)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
			ON CONFLICT(canonical_url) DO NOTHING
		`, a.CanonicalURL, a.Title, a.Content, a.FullContent, a.PublishedAt, domain.StatusPending)
		if execErr != nil {
			return fmt.Errorf("%w: insert article: %v", domain.ErrStorage, execErr)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			newID, idErr := res.LastInsertId()
			if idErr != nil {
				return fmt.Errorf("%w: read inserted article id: %v", domain.ErrStorage, idErr)
			}
			id = newID
			wasNew = true
			return nil
		}

		row := s.db.QueryRowContext(ctx, `SELECT id FROM articles WHERE canonical_url = ?`, a.CanonicalURL)
		if scanErr := row.Scan(&id); scanErr != nil {
			return fmt.Errorf("%w: lookup existing article: %v", domain.ErrStorage, scanErr)
		}
		return nil
	})
	return id, wasNew, err
}

// SaveArticleFullContent persists the scraper's extracted main-content text
// for an article that the feed itself only supplied an excerpt for.
func (s *Store) SaveArticleFullContent(ctx context.Context, articleID int64, fullContent string) error {
	return withTiming("save_article_full_content", func() error {
		_, err := s.cb.ExecContext(ctx, `UPDATE articles SET full_content = ? WHERE id = ?`, fullContent, articleID)
		if err != nil {
			return fmt.Errorf("%w: save article full content: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// RecordOccurrence idempotently links an Article to the Feed it was found
// in. A duplicate (articleID, feedID) pair is silently ignored: the same
// item can reappear across polls without creating duplicate occurrences.
func (s *Store) RecordOccurrence(ctx context.Context, occ *domain.ArticleOccurrence) error {
	return withTiming("record_occurrence", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO article_occurrences (article_id, feed_id, feed_item_id, discovered_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(article_id, feed_id) DO NOTHING
		`, occ.ArticleID, occ.FeedID, occ.FeedItemID)
		if err != nil {
			return fmt.Errorf("%w: record occurrence: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// TransitionProcessingStatus atomically moves an Article's processing_status
// from one of the allowed "from" states to "to", returning domain.ErrConflict
// if the row is no longer in an expected state (another worker raced it).
func (s *Store) TransitionProcessingStatus(ctx context.Context, articleID int64, from []domain.ProcessingStatus, to domain.ProcessingStatus) error {
	return withTiming("transition_processing_status", func() error {
		query := `UPDATE articles SET processing_status = ?`
		if to == domain.StatusCompleted || to == domain.StatusFailed {
			query += `, processed_at = CURRENT_TIMESTAMP`
		}
		query += ` WHERE id = ? AND processing_status IN (` + inClausePlaceholders(len(from)) + `)`
		args := make([]interface{}, 0, len(from)+2)
		args = append(args, to, articleID)
		for _, f := range from {
			args = append(args, f)
		}
		res, err := s.cb.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: transition processing status: %v", domain.ErrStorage, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: article %d not in expected state for transition to %s", domain.ErrConflict, articleID, to)
		}
		return nil
	})
}

func inClausePlaceholders(n int) string {
	if n <= 0 {
		return "''"
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}

// ListArticlesByStatus returns up to limit articles in the given status,
// oldest-first, for pipeline batch processing.
func (s *Store) ListArticlesByStatus(ctx context.Context, status domain.ProcessingStatus, limit int) ([]*domain.Article, error) {
	var out []*domain.Article
	err := withTiming("list_articles_by_status", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT id, canonical_url, title, content, full_content, published_at, first_seen_at, processing_status, processed_at
			FROM articles WHERE processing_status = ? ORDER BY first_seen_at ASC LIMIT ?
		`, status, limit)
		if err != nil {
			return fmt.Errorf("%w: list articles by status: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			a := &domain.Article{}
			if err := rows.Scan(&a.ID, &a.CanonicalURL, &a.Title, &a.Content, &a.FullContent, &a.PublishedAt, &a.FirstSeenAt, &a.ProcessingStatus, &a.ProcessedAt); err != nil {
				return fmt.Errorf("%w: scan article: %v", domain.ErrStorage, err)
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// GetArticle fetches a single article by id.
func (s *Store) GetArticle(ctx context.Context, id int64) (*domain.Article, error) {
	var a domain.Article
	err := withTiming("get_article", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, canonical_url, title, content, full_content, published_at, first_seen_at, processing_status, processed_at
			FROM articles WHERE id = ?
		`, id)
		if err := row.Scan(&a.ID, &a.CanonicalURL, &a.Title, &a.Content, &a.FullContent, &a.PublishedAt, &a.FirstSeenAt, &a.ProcessingStatus, &a.ProcessedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: article %d", domain.ErrNotFound, id)
			}
			return fmt.Errorf("%w: get article: %v", domain.ErrStorage, err)
		}
		return nil
	})
	return &a, err
}

// SaveArticleSummary upserts the single generic summary for an article.
func (s *Store) SaveArticleSummary(ctx context.Context, sum *domain.ArticleSummary) error {
	return withTiming("save_article_summary", func() error {
		bullets, err := json.Marshal(sum.Bullets)
		if err != nil {
			return fmt.Errorf("%w: marshal bullets: %v", domain.ErrInternal, err)
		}
		cats, err := json.Marshal(sum.Categories)
		if err != nil {
			return fmt.Errorf("%w: marshal categories: %v", domain.ErrInternal, err)
		}
		_, err = s.cb.ExecContext(ctx, `
			INSERT INTO article_summaries (article_id, headline, bullets, details, model, categories, prompt_tokens, completion_tokens)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(article_id) DO UPDATE SET
				headline = excluded.headline, bullets = excluded.bullets, details = excluded.details,
				model = excluded.model, categories = excluded.categories,
				prompt_tokens = excluded.prompt_tokens, completion_tokens = excluded.completion_tokens
		`, sum.ArticleID, sum.Headline, string(bullets), sum.Details, sum.Model, string(cats), sum.PromptTokens, sum.CompletionTokens)
		if err != nil {
			return fmt.Errorf("%w: save article summary: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// GetArticleSummary fetches the generic summary for an article, if present.
func (s *Store) GetArticleSummary(ctx context.Context, articleID int64) (*domain.ArticleSummary, error) {
	var sum domain.ArticleSummary
	var bullets, cats string
	err := withTiming("get_article_summary", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT article_id, headline, bullets, details, model, categories, prompt_tokens, completion_tokens
			FROM article_summaries WHERE article_id = ?
		`, articleID)
		if err := row.Scan(&sum.ArticleID, &sum.Headline, &bullets, &sum.Details, &sum.Model, &cats, &sum.PromptTokens, &sum.CompletionTokens); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: article summary %d", domain.ErrNotFound, articleID)
			}
			return fmt.Errorf("%w: get article summary: %v", domain.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bullets), &sum.Bullets); err != nil {
		return nil, fmt.Errorf("%w: unmarshal bullets: %v", domain.ErrInternal, err)
	}
	if err := json.Unmarshal([]byte(cats), &sum.Categories); err != nil {
		return nil, fmt.Errorf("%w: unmarshal categories: %v", domain.ErrInternal, err)
	}
	return &sum, nil
}

// SaveArticleVector upserts the embedding blob for an article.
func (s *Store) SaveArticleVector(ctx context.Context, articleID int64, vector []float32) error {
	return withTiming("save_article_vector", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO article_vectors (article_id, vector) VALUES (?, ?)
			ON CONFLICT(article_id) DO UPDATE SET vector = excluded.vector
		`, articleID, domain.EncodeVector(vector))
		if err != nil {
			return fmt.Errorf("%w: save article vector: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// GetArticleVector returns the embedding for an article, or (nil, nil) when
// the article has not yet been embedded — callers must treat this as the
// "vector absent" case, not an error.
func (s *Store) GetArticleVector(ctx context.Context, articleID int64) ([]float32, error) {
	var blob []byte
	err := withTiming("get_article_vector", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT vector FROM article_vectors WHERE article_id = ?`, articleID)
		if err := row.Scan(&blob); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("%w: get article vector: %v", domain.ErrStorage, err)
		}
		return nil
	})
	if err != nil || blob == nil {
		return nil, err
	}
	return domain.DecodeVector(blob)
}

// ArticlesWithoutVectors lists completed articles missing an embedding, for
// the embedder's backfill sweep.
func (s *Store) ArticlesWithoutVectors(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := withTiming("articles_without_vectors", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT a.id FROM articles a
			LEFT JOIN article_vectors v ON v.article_id = a.id
			WHERE a.processing_status = ? AND v.article_id IS NULL
			ORDER BY a.first_seen_at ASC LIMIT ?
		`, domain.StatusCompleted, limit)
		if err != nil {
			return fmt.Errorf("%w: list articles without vectors: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("%w: scan article id: %v", domain.ErrStorage, err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// NearestArticlesByVector returns the k article ids closest (by cosine
// distance) to the given query vector among completed articles, using the
// registered cosine_distance SQL function as the vector index sidecar.
func (s *Store) NearestArticlesByVector(ctx context.Context, query []float32, k int) ([]int64, error) {
	var ids []int64
	err := withTiming("nearest_articles_by_vector", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT v.article_id FROM article_vectors v
			JOIN articles a ON a.id = v.article_id
			WHERE a.processing_status = ?
			ORDER BY cosine_distance(v.vector, ?) ASC
			LIMIT ?
		`, domain.StatusCompleted, domain.EncodeVector(query), k)
		if err != nil {
			return fmt.Errorf("%w: nearest articles by vector: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("%w: scan article id: %v", domain.ErrStorage, err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// RecordView inserts a view for (userID, articleID) if absent; repeat views
// of the same article by the same user do not create duplicate rows.
func (s *Store) RecordView(ctx context.Context, v *domain.ArticleView) error {
	return withTiming("record_view", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO article_views (user_id, article_id, session_id, viewed_at, rating)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?)
			ON CONFLICT(user_id, article_id) DO NOTHING
		`, v.UserID, v.ArticleID, v.SessionID, v.Rating)
		if err != nil {
			return fmt.Errorf("%w: record view: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// RateArticleView attaches a rating to an existing view, inserting one if
// the article hadn't been recorded as viewed yet (rating implies viewing).
func (s *Store) RateArticleView(ctx context.Context, userID, articleID int64, rating int) error {
	return withTiming("rate_article_view", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO article_views (user_id, article_id, viewed_at, rating)
			VALUES (?, ?, CURRENT_TIMESTAMP, ?)
			ON CONFLICT(user_id, article_id) DO UPDATE SET rating = excluded.rating
		`, userID, articleID, rating)
		if err != nil {
			return fmt.Errorf("%w: rate article view: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// UnreadArticlesGroupedByFeed returns, for the given user, up to perFeedCap
// unread articles per subscribed feed, most recent first, using a row-number
// partition over article_occurrences grouped by feed.
func (s *Store) UnreadArticlesGroupedByFeed(ctx context.Context, userID int64, perFeedCap int) ([]int64, error) {
	var ids []int64
	err := withTiming("unread_articles_grouped_by_feed", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			WITH ranked AS (
				SELECT
					o.article_id AS article_id,
					o.feed_id AS feed_id,
					ROW_NUMBER() OVER (PARTITION BY o.feed_id ORDER BY a.first_seen_at DESC) AS rank_in_feed
				FROM article_occurrences o
				JOIN articles a ON a.id = o.article_id
				JOIN subscriptions s ON s.feed_id = o.feed_id AND s.user_id = ?
				LEFT JOIN article_views vw ON vw.article_id = o.article_id AND vw.user_id = ?
				WHERE a.processing_status = ? AND vw.article_id IS NULL
			)
			SELECT article_id FROM ranked WHERE rank_in_feed <= ? ORDER BY rank_in_feed ASC
		`, userID, userID, domain.StatusCompleted, perFeedCap)
		if err != nil {
			return fmt.Errorf("%w: unread articles grouped by feed: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("%w: scan unread article id: %v", domain.ErrStorage, err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// PrimaryFeedForArticle returns the feed an article was first discovered
// through, for per-feed decay/cadence calculations on cross-posted content.
func (s *Store) PrimaryFeedForArticle(ctx context.Context, articleID int64) (int64, error) {
	var feedID int64
	err := withTiming("primary_feed_for_article", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT feed_id FROM article_occurrences WHERE article_id = ? ORDER BY discovered_at ASC LIMIT 1
		`, articleID)
		if err := row.Scan(&feedID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: no occurrence for article %d", domain.ErrNotFound, articleID)
			}
			return fmt.Errorf("%w: primary feed for article: %v", domain.ErrStorage, err)
		}
		return nil
	})
	return feedID, err
}
