// Package fetcher polls RSS/Atom feeds for new entries, wrapping the
// mmcdole/gofeed parser in the teacher's circuit breaker + retry pattern.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sony/gobreaker"

	"mynewslens/internal/domain"
	"mynewslens/internal/netguard"
	"mynewslens/internal/observability/metrics"
	"mynewslens/internal/resilience/circuitbreaker"
	"mynewslens/internal/resilience/retry"
)

// maxFeedRedirects caps the redirect chain a feed URL may take before
// MyNewsLens gives up following it — the same SSRF-hardened bound the
// scraper applies to article URLs, since a feed URL is just as much
// user-supplied input.
const maxFeedRedirects = 5

// Item is one syndicated entry, normalized regardless of feed dialect.
type Item struct {
	Title       string
	URL         string
	Content     string
	PublishedAt time.Time
	FeedItemID  string
}

// Fetcher retrieves and parses a feed URL into normalized Items.
type Fetcher struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// New builds a Fetcher. client should already carry the politeness
// timeout configured for feed polling; its CheckRedirect is overwritten
// here with the SSRF-hardened redirect validator.
func New(client *http.Client) *Fetcher {
	client.CheckRedirect = netguard.CheckRedirect(maxFeedRedirects, true)
	return &Fetcher{
		client:         client,
		circuitBreaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retryConfig:    retry.FeedFetchConfig(),
	}
}

// Fetch retrieves and parses an RSS/Atom feed from the given URL. Terminal
// 4xx responses are surfaced as retry.HTTPError, which retry.IsRetryable
// rejects, so a feed that will never succeed is not retried. feedURL itself
// is SSRF-validated before the request is ever built.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Item, error) {
	if err := netguard.ValidateURL(feedURL, true); err != nil {
		return nil, err
	}

	start := time.Now()
	var items []Item

	retryErr := retry.WithBackoff(ctx, f.retryConfig, func() error {
		cbResult, err := f.circuitBreaker.Execute(func() (interface{}, error) {
			return f.doFetch(ctx, feedURL)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("feed fetch circuit breaker open, request rejected",
					slog.String("url", feedURL), slog.String("state", f.circuitBreaker.State().String()))
			}
			return err
		}
		items = cbResult.([]Item)
		return nil
	})

	outcome := "failed"
	if retryErr == nil {
		outcome = "empty"
		if len(items) > 0 {
			outcome = "new_articles"
		}
	}
	metrics.RecordFeedPoll(outcome, time.Since(start), 0, len(items))

	if retryErr != nil {
		return nil, retryErr
	}
	return items, nil
}

func (f *Fetcher) doFetch(ctx context.Context, feedURL string) ([]Item, error) {
	fp := gofeed.NewParser()
	fp.UserAgent = "MyNewsLensBot/1.0 (+https://github.com/mynewslens)"
	fp.Client = f.client

	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		if status, ok := asHTTPStatus(err); ok {
			return nil, &retry.HTTPError{StatusCode: status, Message: err.Error()}
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFeed, err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		pubAt := time.Now()
		if it.PublishedParsed != nil {
			pubAt = *it.PublishedParsed
		}

		content := it.Content
		if content == "" {
			content = it.Description
		}

		items = append(items, Item{
			Title:       it.Title,
			URL:         it.Link,
			Content:     content,
			PublishedAt: pubAt,
			FeedItemID:  firstNonEmpty(it.GUID, it.Link),
		})
	}

	return items, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// asHTTPStatus recognizes gofeed's "http error: <status> <text>"-shaped
// messages so the status code can drive the retryable/non-retryable split.
func asHTTPStatus(err error) (int, bool) {
	msg := err.Error()
	for status := 400; status < 600; status++ {
		text := http.StatusText(status)
		if text == "" {
			continue
		}
		if strings.Contains(msg, fmt.Sprintf("%d %s", status, text)) {
			return status, true
		}
	}
	return 0, false
}
