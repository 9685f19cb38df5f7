// Package domain defines the core entities of the news pipeline: users, feeds,
// articles and their derived summaries, vectors, views and sessions.
package domain

import "time"

// ProcessingStatus is the lifecycle state of an Article's LLM pipeline.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// SummaryLength buckets a personalized summary by target verbosity.
type SummaryLength string

const (
	LengthShort  SummaryLength = "short"
	LengthMedium SummaryLength = "medium"
	LengthLong   SummaryLength = "long"
)

// Category is one of the closed set of article classifications.
type Category string

const (
	CategoryPolitics      Category = "politics"
	CategoryEconomy       Category = "economy"
	CategoryTechnology    Category = "technology"
	CategorySports        Category = "sports"
	CategoryCulture       Category = "culture"
	CategoryScience       Category = "science"
	CategoryLocalNews     Category = "local_news"
	CategoryInternational Category = "international"
	CategoryFaitsDivers   Category = "faits_divers"
	CategoryHealth        Category = "health"
	CategoryEnvironment   Category = "environment"
)

// ValidCategories is the closed set the Classifier may emit; anything else is dropped.
var ValidCategories = map[Category]bool{
	CategoryPolitics: true, CategoryEconomy: true, CategoryTechnology: true,
	CategorySports: true, CategoryCulture: true, CategoryScience: true,
	CategoryLocalNews: true, CategoryInternational: true, CategoryFaitsDivers: true,
	CategoryHealth: true, CategoryEnvironment: true,
}

// User is a registered reader of the aggregator.
type User struct {
	ID               int64
	Username         string
	DisplayName      string
	PasswordHash     string
	PreferredLang    string
	ComplexityLevel  string
	ReadingSpeedWPM  int
	Interests        []string
	LastLogin        *time.Time
	CreatedAt        time.Time
}

// Feed is a syndicated URL polled for entries. Feed ownership is independent
// of subscription: the same Feed may be shared by many Subscriptions.
type Feed struct {
	ID                  int64
	URL                 string
	Title               string
	SiteURL             string
	LastChecked         *time.Time
	Status              string
	NextPollAt          *time.Time
	PollIntervalMinutes int
	AdaptiveScheduling  bool
}

// Subscription binds a User to a Feed. Uniqueness on (UserID, FeedID).
type Subscription struct {
	ID        int64
	UserID    int64
	FeedID    int64
	Title     string
	Weight    float64
	CreatedAt time.Time
}

// Article is a content item identified by its canonical URL.
type Article struct {
	ID              int64
	CanonicalURL    string
	Title           string
	Content         string
	FullContent     string
	PublishedAt     *time.Time
	FirstSeenAt     time.Time
	ProcessingStatus ProcessingStatus
	ProcessedAt     *time.Time
}

// ArticleOccurrence records that an Article was observed in a Feed.
// Uniqueness on (ArticleID, FeedID); an article may have several occurrences
// when it is cross-posted across feeds.
type ArticleOccurrence struct {
	ArticleID    int64
	FeedID       int64
	FeedItemID   string
	DiscoveredAt time.Time
}

// ArticleSummary is the 1:1 generic summary of an Article, produced once.
type ArticleSummary struct {
	ArticleID         int64
	Headline          string
	Bullets           []string
	Details           string
	Model             string
	Categories        []Category
	PromptTokens      int
	CompletionTokens  int
}

// UserArticleSummary is a per-user rewriting of an ArticleSummary, retained
// only when relevance is above threshold. Uniqueness on (UserID, ArticleID).
type UserArticleSummary struct {
	UserID               int64
	ArticleID            int64
	RelevanceScore       float64
	RelevanceReasons     []string
	IsRelevant           bool
	PersonalizedHeadline string
	PersonalizedBullets  []string
	PersonalizedDetails  string
	Language             string
	ComplexityLevel      string
	SummaryLength        SummaryLength
	LLMModel             string
	Tokens               int
}

// ArticleView records that a user has seen an article. Uniqueness on
// (UserID, ArticleID) — an article is "seen" globally, not per session.
type ArticleView struct {
	UserID    int64
	ArticleID int64
	SessionID *int64
	ViewedAt  time.Time
	Rating    *int
}

// Session is a bounded, stateful chat connection carrying a streamed digest.
type Session struct {
	ID                      int64
	UserID                  int64
	StartAt                 time.Time
	DurationRequestedSecs   int
	Title                   string
	DigestSummaryID         *int64
}

// ChatMessage is one turn of a Session's conversation.
type ChatMessage struct {
	SessionID int64
	Author    string // "user" | "assistant"
	Message   string
	CreatedAt time.Time
}

// PreferenceType distinguishes the kinds of additive interest-vector knobs.
type PreferenceType string

const (
	PreferenceCategoryFilter PreferenceType = "category_filter"
	PreferenceKeywordBoost   PreferenceType = "keyword_boost"
)

// UserPreference is an additive knob that augments a user's interest vector.
type UserPreference struct {
	UserID           int64
	PreferenceType   PreferenceType
	PreferenceKey    string
	PreferenceValue  float64
}

// ProcessingJob is the authority on "has this LLM operation run for this entity".
type ProcessingJob struct {
	ID                int64
	JobType           string
	EntityID          int64
	Status            ProcessingStatus
	LLMModel          string
	ErrorMessage      string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	PromptTokens      int
	CompletionTokens  int
	ProcessingTimeMS  int64
}

// VectorDim is the fixed dimensionality of every stored embedding.
const VectorDim = 1536
