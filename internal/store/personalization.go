package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"mynewslens/internal/domain"
)

// SaveUserArticleSummary upserts a per-user personalized rewrite of an
// article, keyed by (userID, articleID).
func (s *Store) SaveUserArticleSummary(ctx context.Context, uas *domain.UserArticleSummary) error {
	return withTiming("save_user_article_summary", func() error {
		reasons, err := json.Marshal(uas.RelevanceReasons)
		if err != nil {
			return fmt.Errorf("%w: marshal relevance reasons: %v", domain.ErrInternal, err)
		}
		bullets, err := json.Marshal(uas.PersonalizedBullets)
		if err != nil {
			return fmt.Errorf("%w: marshal personalized bullets: %v", domain.ErrInternal, err)
		}
		_, err = s.cb.ExecContext(ctx, `
			INSERT INTO user_article_summaries (
				user_id, article_id, relevance_score, relevance_reasons, is_relevant,
				personalized_headline, personalized_bullets, personalized_details,
				language, complexity_level, summary_length, llm_model, tokens
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, article_id) DO UPDATE SET
				relevance_score = excluded.relevance_score,
				relevance_reasons = excluded.relevance_reasons,
				is_relevant = excluded.is_relevant,
				personalized_headline = excluded.personalized_headline,
				personalized_bullets = excluded.personalized_bullets,
				personalized_details = excluded.personalized_details,
				language = excluded.language,
				complexity_level = excluded.complexity_level,
				summary_length = excluded.summary_length,
				llm_model = excluded.llm_model,
				tokens = excluded.tokens
		`, uas.UserID, uas.ArticleID, uas.RelevanceScore, string(reasons), uas.IsRelevant,
			uas.PersonalizedHeadline, string(bullets), uas.PersonalizedDetails,
			uas.Language, uas.ComplexityLevel, uas.SummaryLength, uas.LLMModel, uas.Tokens)
		if err != nil {
			return fmt.Errorf("%w: save user article summary: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

func scanUserArticleSummary(row interface{ Scan(...any) error }) (*domain.UserArticleSummary, error) {
	var uas domain.UserArticleSummary
	var reasons, bullets string
	if err := row.Scan(&uas.UserID, &uas.ArticleID, &uas.RelevanceScore, &reasons, &uas.IsRelevant,
		&uas.PersonalizedHeadline, &bullets, &uas.PersonalizedDetails,
		&uas.Language, &uas.ComplexityLevel, &uas.SummaryLength, &uas.LLMModel, &uas.Tokens); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reasons), &uas.RelevanceReasons); err != nil {
		return nil, fmt.Errorf("%w: unmarshal relevance reasons: %v", domain.ErrInternal, err)
	}
	if err := json.Unmarshal([]byte(bullets), &uas.PersonalizedBullets); err != nil {
		return nil, fmt.Errorf("%w: unmarshal personalized bullets: %v", domain.ErrInternal, err)
	}
	return &uas, nil
}

const userArticleSummaryColumns = `
	user_id, article_id, relevance_score, relevance_reasons, is_relevant,
	personalized_headline, personalized_bullets, personalized_details,
	language, complexity_level, summary_length, llm_model, tokens`

// GetUserArticleSummary fetches a personalized rewrite, if one exists.
func (s *Store) GetUserArticleSummary(ctx context.Context, userID, articleID int64) (*domain.UserArticleSummary, error) {
	var out *domain.UserArticleSummary
	err := withTiming("get_user_article_summary", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+userArticleSummaryColumns+` FROM user_article_summaries WHERE user_id = ? AND article_id = ?
		`, userID, articleID)
		uas, scanErr := scanUserArticleSummary(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: user article summary (%d, %d)", domain.ErrNotFound, userID, articleID)
			}
			return fmt.Errorf("%w: get user article summary: %v", domain.ErrStorage, scanErr)
		}
		out = uas
		return nil
	})
	return out, err
}

// RelevantUnseenSummaries returns a user's relevant, unviewed personalized
// summaries ordered by relevance, flattened across every feed.
func (s *Store) RelevantUnseenSummaries(ctx context.Context, userID int64, limit int) ([]*domain.UserArticleSummary, error) {
	var out []*domain.UserArticleSummary
	err := withTiming("relevant_unseen_summaries", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT `+userArticleSummaryColumns+` FROM user_article_summaries uas
			LEFT JOIN article_views v ON v.user_id = uas.user_id AND v.article_id = uas.article_id
			WHERE uas.user_id = ? AND uas.is_relevant = 1 AND v.article_id IS NULL
			ORDER BY uas.relevance_score DESC
			LIMIT ?
		`, userID, limit)
		if err != nil {
			return fmt.Errorf("%w: relevant unseen summaries: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			uas, scanErr := scanUserArticleSummary(rows)
			if scanErr != nil {
				return fmt.Errorf("%w: scan user article summary: %v", domain.ErrStorage, scanErr)
			}
			out = append(out, uas)
		}
		return rows.Err()
	})
	return out, err
}

// DigestCandidates returns a user's relevant, unviewed personalized
// summaries capped at perFeedCap per subscribed feed (an article occurring
// in several feeds is ranked under its best feed slot). The per-feed cap
// keeps the most recently published articles, not the most relevant —
// relevance ordering is applied only to the surviving candidate set, which
// the digest assembler then scores and sorts itself.
func (s *Store) DigestCandidates(ctx context.Context, userID int64, perFeedCap int) ([]*domain.UserArticleSummary, error) {
	var out []*domain.UserArticleSummary
	err := withTiming("digest_candidates", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			WITH ranked AS (
				SELECT
					uas.article_id AS article_id,
					ROW_NUMBER() OVER (
						PARTITION BY o.feed_id
						ORDER BY COALESCE(a.published_at, a.first_seen_at) DESC
					) AS rank_in_feed
				FROM user_article_summaries uas
				JOIN article_occurrences o ON o.article_id = uas.article_id
				JOIN articles a ON a.id = uas.article_id
				JOIN subscriptions sub ON sub.feed_id = o.feed_id AND sub.user_id = uas.user_id
				LEFT JOIN article_views v ON v.user_id = uas.user_id AND v.article_id = uas.article_id
				WHERE uas.user_id = ? AND uas.is_relevant = 1 AND v.article_id IS NULL
			)
			SELECT
				uas.user_id, uas.article_id, uas.relevance_score, uas.relevance_reasons, uas.is_relevant,
				uas.personalized_headline, uas.personalized_bullets, uas.personalized_details,
				uas.language, uas.complexity_level, uas.summary_length, uas.llm_model, uas.tokens
			FROM user_article_summaries uas
			JOIN ranked r ON r.article_id = uas.article_id
			WHERE uas.user_id = ? AND r.rank_in_feed <= ?
			ORDER BY uas.relevance_score DESC
		`, userID, userID, perFeedCap)
		if err != nil {
			return fmt.Errorf("%w: digest candidates: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		seen := make(map[int64]bool)
		for rows.Next() {
			uas, scanErr := scanUserArticleSummary(rows)
			if scanErr != nil {
				return fmt.Errorf("%w: scan digest candidate: %v", domain.ErrStorage, scanErr)
			}
			if seen[uas.ArticleID] {
				continue
			}
			seen[uas.ArticleID] = true
			out = append(out, uas)
		}
		return rows.Err()
	})
	return out, err
}
