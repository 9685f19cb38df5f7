// Package scheduler polls due feeds on a fixed tick and adapts each feed's
// polling interval to how often it actually publishes, the way the teacher's
// cron worker drives its crawl job but per-feed rather than per-process.
package scheduler

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"mynewslens/internal/domain"
	"mynewslens/internal/fetcher"
	"mynewslens/internal/observability/metrics"
	"mynewslens/internal/store"
)

// tickInterval is how often the scheduler checks for due feeds. Feed-level
// cadence is governed independently by each feed's poll_interval_minutes.
const tickInterval = 60 * time.Second

// perHostConcurrency, scaled by 4, sizes the pool of concurrent feed fetches
// in one tick. The number of concurrent fetches against a single host is not
// bounded separately; only the spacing of their starts is (waitPoliteness).
const perHostConcurrency = 2

// feedStore is the subset of store.Store the scheduler depends on.
type feedStore interface {
	DueFeeds(ctx context.Context) ([]*domain.Feed, error)
	RecordPollOutcome(ctx context.Context, feedID int64, status string, nextIntervalMinutes int) error
	UpsertArticleByURL(ctx context.Context, a *domain.Article) (id int64, wasNew bool, err error)
	RecordOccurrence(ctx context.Context, occ *domain.ArticleOccurrence) error
}

// PipelineHook lets the scheduler hand newly discovered articles off to the
// LLM processing pipeline without importing it directly.
type PipelineHook func(ctx context.Context, articleID int64)

// Scheduler owns the adaptive feed-polling loop: a single 60-second ticker
// that fans a bounded pool of per-host-rate-limited fetches across every due
// feed, then feeds each outcome back into that feed's next interval.
type Scheduler struct {
	store   feedStore
	fetcher *fetcher.Fetcher
	onNew   PipelineHook

	politenessDelay time.Duration
	hostLimiters    map[string]*rate.Limiter

	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler. politenessDelay is the minimum spacing between
// requests to the same host.
func New(st feedStore, f *fetcher.Fetcher, politenessDelay time.Duration, onNew PipelineHook) *Scheduler {
	return &Scheduler{
		store:           st,
		fetcher:         f,
		onNew:           onNew,
		politenessDelay: politenessDelay,
		hostLimiters:    make(map[string]*rate.Limiter),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Run blocks, ticking every 60 seconds until ctx is cancelled or Stop is
// called. Ticks never overlap: a tick that is still fetching feeds when the
// next one fires is simply skipped.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	busy := make(chan struct{}, 1)
	busy <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			select {
			case <-busy:
			default:
				slog.Warn("scheduler tick skipped, previous tick still running")
				continue
			}
			s.tick(ctx)
			busy <- struct{}{}
		}
	}
}

// Stop signals Run to return and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// tick polls every currently-due feed concurrently, up to the pool size.
// Fetch starts against the same host are spaced by the host rate limiter;
// fetches against one host can still overlap.
func (s *Scheduler) tick(ctx context.Context) {
	feeds, err := s.store.DueFeeds(ctx)
	if err != nil {
		slog.Error("scheduler: list due feeds failed", slog.Any("error", err))
		return
	}
	if len(feeds) == 0 {
		return
	}

	sem := make(chan struct{}, perHostConcurrency*4)
	doneCh := make(chan struct{}, len(feeds))
	for _, f := range feeds {
		f := f
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; doneCh <- struct{}{} }()
			s.pollFeed(ctx, f)
		}()
	}
	for range feeds {
		<-doneCh
	}
}

// TriggerNow polls a single feed immediately, outside the tick loop, sharing
// the exact same outcome-to-interval update logic as the automatic path.
func (s *Scheduler) TriggerNow(ctx context.Context, f *domain.Feed) {
	s.pollFeed(ctx, f)
}

func (s *Scheduler) pollFeed(ctx context.Context, f *domain.Feed) {
	s.waitPoliteness(ctx, f.URL)

	items, err := s.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		s.recordOutcome(ctx, f, "failed", 0)
		return
	}

	newCount := 0
	for _, item := range items {
		articleID, wasNew, err := s.store.UpsertArticleByURL(ctx, &domain.Article{
			CanonicalURL: item.URL,
			Title:        item.Title,
			Content:      item.Content,
			PublishedAt:  publishedAtOrNil(item.PublishedAt),
		})
		if err != nil {
			slog.Warn("scheduler: upsert article failed, skipping", slog.String("url", item.URL), slog.Any("error", err))
			continue
		}
		if err := s.store.RecordOccurrence(ctx, &domain.ArticleOccurrence{
			ArticleID:  articleID,
			FeedID:     f.ID,
			FeedItemID: item.FeedItemID,
		}); err != nil {
			slog.Warn("scheduler: record occurrence failed", slog.Int64("article_id", articleID), slog.Any("error", err))
		}
		if wasNew {
			newCount++
			if s.onNew != nil {
				s.onNew(ctx, articleID)
			}
		}
	}

	if newCount > 0 {
		s.recordOutcome(ctx, f, "new_articles", newCount)
	} else {
		s.recordOutcome(ctx, f, "empty", 0)
	}
}

// recordOutcome computes the next poll interval and persists it: halve
// (floor 15m) on new articles or grow by 1.5x (cap 1440m) on an
// empty-but-successful poll, both gated behind adaptive_scheduling; double
// (cap 1440m) on failure, which always applies regardless of that flag —
// a feed that stops responding backs off even with adaptive scheduling
// turned off.
func (s *Scheduler) recordOutcome(ctx context.Context, f *domain.Feed, outcome string, newArticles int) {
	current := f.PollIntervalMinutes
	if current <= 0 {
		current = 60
	}

	next := current
	status := "ok"
	if outcome == "failed" {
		next = store.ClampPollIntervalMinutes(current * 2)
		status = "error"
	} else if f.AdaptiveScheduling {
		switch outcome {
		case "new_articles":
			next = store.ClampPollIntervalMinutes(current / 2)
		case "empty":
			next = store.ClampPollIntervalMinutes(int(float64(current) * 1.5))
		}
	}

	metrics.RecordFeedPoll(outcome, 0, next, newArticles)

	if err := s.store.RecordPollOutcome(ctx, f.ID, status, next); err != nil {
		slog.Error("scheduler: record poll outcome failed", slog.Int64("feed_id", f.ID), slog.Any("error", err))
	}
}

// waitPoliteness enforces a minimum per-host spacing between feed fetches,
// lazily creating a limiter per host on first use.
func (s *Scheduler) waitPoliteness(ctx context.Context, rawURL string) {
	if s.politenessDelay <= 0 {
		return
	}
	host := hostOf(rawURL)
	limiter, ok := s.hostLimiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.politenessDelay), 1)
		s.hostLimiters[host] = limiter
	}
	_ = limiter.Wait(ctx)
}

// hostOf extracts the host component for per-host rate limiting, falling
// back to the raw string if it doesn't parse as a URL.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func publishedAtOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
