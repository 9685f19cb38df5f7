package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mynewslens/internal/domain"
)

const feedColumns = `id, url, title, site_url, last_checked, status, next_poll_at, poll_interval_minutes, adaptive_scheduling`

func scanFeed(row interface{ Scan(...any) error }) (*domain.Feed, error) {
	var f domain.Feed
	if err := row.Scan(&f.ID, &f.URL, &f.Title, &f.SiteURL, &f.LastChecked, &f.Status, &f.NextPollAt, &f.PollIntervalMinutes, &f.AdaptiveScheduling); err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFeed creates a feed by URL if absent, or returns the existing row.
func (s *Store) UpsertFeed(ctx context.Context, url, title string) (*domain.Feed, error) {
	var f *domain.Feed
	err := withTiming("upsert_feed", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO feeds (url, title, poll_interval_minutes, adaptive_scheduling)
			VALUES (?, ?, 60, 1)
			ON CONFLICT(url) DO NOTHING
		`, url, title)
		if err != nil {
			return fmt.Errorf("%w: upsert feed: %v", domain.ErrStorage, err)
		}
		row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)
		feed, scanErr := scanFeed(row)
		if scanErr != nil {
			return fmt.Errorf("%w: read upserted feed: %v", domain.ErrStorage, scanErr)
		}
		f = feed
		return nil
	})
	return f, err
}

// GetFeed fetches a feed by id.
func (s *Store) GetFeed(ctx context.Context, id int64) (*domain.Feed, error) {
	var f *domain.Feed
	err := withTiming("get_feed", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
		feed, scanErr := scanFeed(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: feed %d", domain.ErrNotFound, id)
			}
			return fmt.Errorf("%w: get feed: %v", domain.ErrStorage, scanErr)
		}
		f = feed
		return nil
	})
	return f, err
}

// DueFeeds returns every feed whose next_poll_at has elapsed, for the
// scheduler's 60-second tick to hand to the fetch pool.
func (s *Store) DueFeeds(ctx context.Context) ([]*domain.Feed, error) {
	var out []*domain.Feed
	err := withTiming("due_feeds", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT `+feedColumns+` FROM feeds
			WHERE next_poll_at IS NULL OR next_poll_at <= CURRENT_TIMESTAMP
			ORDER BY next_poll_at ASC
		`)
		if err != nil {
			return fmt.Errorf("%w: due feeds: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			f, scanErr := scanFeed(rows)
			if scanErr != nil {
				return fmt.Errorf("%w: scan due feed: %v", domain.ErrStorage, scanErr)
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// RecordPollOutcome updates a feed's scheduling state after a poll: the
// observed status, the next poll interval (already clamped by the caller's
// adaptive scheduler), and the resulting next_poll_at timestamp.
func (s *Store) RecordPollOutcome(ctx context.Context, feedID int64, status string, nextIntervalMinutes int) error {
	return withTiming("record_poll_outcome", func() error {
		interval := clampMinutes(nextIntervalMinutes)
		_, err := s.cb.ExecContext(ctx, `
			UPDATE feeds SET
				last_checked = CURRENT_TIMESTAMP,
				status = ?,
				poll_interval_minutes = ?,
				next_poll_at = datetime(CURRENT_TIMESTAMP, ? || ' minutes')
			WHERE id = ?
		`, status, interval, fmt.Sprintf("+%d", interval), feedID)
		if err != nil {
			return fmt.Errorf("%w: record poll outcome: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// AveragePublicationIntervalSeconds estimates how often a feed actually
// publishes, from the mean gap between consecutive article occurrences.
// Returns 0 with no error when fewer than two occurrences exist yet.
func (s *Store) AveragePublicationIntervalSeconds(ctx context.Context, feedID int64) (float64, error) {
	var seconds sql.NullFloat64
	err := withTiming("average_publication_interval", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT AVG((julianday(discovered_at) - julianday(prev_discovered_at)) * 86400.0)
			FROM (
				SELECT discovered_at, LAG(discovered_at) OVER (ORDER BY discovered_at) AS prev_discovered_at
				FROM article_occurrences
				WHERE feed_id = ?
			)
			WHERE prev_discovered_at IS NOT NULL
		`, feedID)
		if err := row.Scan(&seconds); err != nil {
			return fmt.Errorf("%w: average publication interval: %v", domain.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seconds.Float64, nil
}

// CreateSubscription links a user to a feed, idempotently.
func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) (int64, error) {
	var id int64
	err := withTiming("create_subscription", func() error {
		res, err := s.cb.ExecContext(ctx, `
			INSERT INTO subscriptions (user_id, feed_id, title, weight)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, feed_id) DO UPDATE SET title = excluded.title, weight = excluded.weight
		`, sub.UserID, sub.FeedID, sub.Title, sub.Weight)
		if err != nil {
			return fmt.Errorf("%w: create subscription: %v", domain.ErrStorage, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if lastID, idErr := res.LastInsertId(); idErr == nil && lastID > 0 {
				id = lastID
				return nil
			}
		}
		row := s.db.QueryRowContext(ctx, `SELECT id FROM subscriptions WHERE user_id = ? AND feed_id = ?`, sub.UserID, sub.FeedID)
		return row.Scan(&id)
	})
	return id, err
}

// ListSubscriptionsForUser returns every feed a user subscribes to.
func (s *Store) ListSubscriptionsForUser(ctx context.Context, userID int64) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	err := withTiming("list_subscriptions_for_user", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT id, user_id, feed_id, title, weight, created_at FROM subscriptions WHERE user_id = ? ORDER BY id ASC
		`, userID)
		if err != nil {
			return fmt.Errorf("%w: list subscriptions: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			sub := &domain.Subscription{}
			if err := rows.Scan(&sub.ID, &sub.UserID, &sub.FeedID, &sub.Title, &sub.Weight, &sub.CreatedAt); err != nil {
				return fmt.Errorf("%w: scan subscription: %v", domain.ErrStorage, err)
			}
			out = append(out, sub)
		}
		return rows.Err()
	})
	return out, err
}
