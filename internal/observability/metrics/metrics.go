// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track HTTP request patterns and performance.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Scheduler / feed fetch metrics.
var (
	FeedsPolledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeds_polled_total",
			Help: "Total number of feed poll attempts by outcome",
		},
		[]string{"outcome"}, // new_articles, empty, failed
	)

	FeedPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_poll_duration_seconds",
			Help:    "Time taken to fetch and store a single feed",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	FeedIntervalMinutes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_poll_interval_minutes",
			Help:    "Distribution of feed poll intervals after adaptive adjustment",
			Buckets: []float64{15, 30, 60, 120, 240, 480, 960, 1440},
		},
	)

	ArticlesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "articles_ingested_total",
			Help: "Total number of new articles stored by the fetcher",
		},
	)
)

// LLM adapter metrics.
var (
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "Total number of LLM adapter calls by operation and outcome",
		},
		[]string{"operation", "outcome"}, // operation: generate, summarize, classify, embed, personalize, refine
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "LLM adapter call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
		[]string{"operation"},
	)

	SummarizerFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summarizer_fallback_total",
			Help: "Total number of times the extractive fallback summarizer was used",
		},
	)
)

// Personalization / digest metrics.
var (
	RelevanceScoresEvaluated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "personalization_relevance_score",
			Help:    "Distribution of relevance scores produced by the personalizer",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	DigestCardsEmitted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_cards_emitted",
			Help:    "Number of news cards emitted per digest",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
		},
	)

	DigestWordsEmitted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_words_emitted",
			Help:    "Word count emitted per digest, against its target budget",
			Buckets: []float64{100, 200, 400, 800, 1200, 1800, 2400, 3000},
		},
	)
)

// Session streamer metrics.
var (
	SessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_events_total",
			Help: "Total number of session stream events by type and direction",
		},
		[]string{"type", "direction"}, // direction: inbound, outbound
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of currently connected session streams",
		},
	)
)

// Database metrics.
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordFeedPoll records the outcome of a single scheduler tick against one feed.
func RecordFeedPoll(outcome string, duration time.Duration, newIntervalMinutes int, newArticles int) {
	FeedsPolledTotal.WithLabelValues(outcome).Inc()
	FeedPollDuration.Observe(duration.Seconds())
	FeedIntervalMinutes.Observe(float64(newIntervalMinutes))
	if newArticles > 0 {
		ArticlesIngestedTotal.Add(float64(newArticles))
	}
}

// RecordLLMCall records a single LLM adapter invocation.
func RecordLLMCall(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	LLMCallsTotal.WithLabelValues(operation, outcome).Inc()
	LLMCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDBQuery records the duration of a database operation.
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
