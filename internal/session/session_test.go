package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewslens/internal/digest"
	"mynewslens/internal/domain"
)

func TestUserLanguage_PrefersProfileLanguage(t *testing.T) {
	user := &domain.User{PreferredLang: "fr"}
	assert.Equal(t, "fr", userLanguage(user, "en-US,en;q=0.9"))
}

func TestUserLanguage_FallsBackToAcceptLanguageFirstTag(t *testing.T) {
	user := &domain.User{}
	assert.Equal(t, "es", userLanguage(user, "es-ES,es;q=0.9,en;q=0.8"))
}

func TestUserLanguage_DefaultsToEnglish(t *testing.T) {
	user := &domain.User{}
	assert.Equal(t, "en", userLanguage(user, ""))
}

func TestLocalizedGreeting_FallsBackToEnglishForUnknownLanguage(t *testing.T) {
	assert.Equal(t, greetings["en"], localizedGreeting("xx"))
	assert.Equal(t, greetings["fr"], localizedGreeting("fr"))
}

func TestLocalizedClosing_FallsBackToEnglishForUnknownLanguage(t *testing.T) {
	assert.Equal(t, closings["en"], localizedClosing("xx"))
	assert.Equal(t, closings["es"], localizedClosing("es"))
}

// stubSessionStore is an in-memory sessionStore double.
type stubSessionStore struct {
	sessions  map[int64]*domain.Session
	users     map[int64]*domain.User
	messages  map[int64][]*domain.ChatMessage
	vectors   map[int64][]float32
	feeds     map[int64]*domain.Feed
	primary   map[int64]int64
	summaries map[int64]*domain.ArticleSummary
	views     []*domain.ArticleView
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{
		sessions:  map[int64]*domain.Session{},
		users:     map[int64]*domain.User{},
		messages:  map[int64][]*domain.ChatMessage{},
		vectors:   map[int64][]float32{},
		feeds:     map[int64]*domain.Feed{},
		primary:   map[int64]int64{},
		summaries: map[int64]*domain.ArticleSummary{},
	}
}

func (s *stubSessionStore) GetUser(_ context.Context, id int64) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (s *stubSessionStore) GetSession(_ context.Context, id int64) (*domain.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sess, nil
}

func (s *stubSessionStore) AppendChatMessage(_ context.Context, msg *domain.ChatMessage) error {
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return nil
}

func (s *stubSessionStore) ListChatMessages(_ context.Context, sessionID int64) ([]*domain.ChatMessage, error) {
	return s.messages[sessionID], nil
}

func (s *stubSessionStore) RecordView(_ context.Context, v *domain.ArticleView) error {
	s.views = append(s.views, v)
	return nil
}

func (s *stubSessionStore) RateArticleView(_ context.Context, _, _ int64, _ int) error {
	return nil
}

func (s *stubSessionStore) GetArticleVector(_ context.Context, articleID int64) ([]float32, error) {
	v, ok := s.vectors[articleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (s *stubSessionStore) PrimaryFeedForArticle(_ context.Context, articleID int64) (int64, error) {
	id, ok := s.primary[articleID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return id, nil
}

func (s *stubSessionStore) GetFeed(_ context.Context, id int64) (*domain.Feed, error) {
	f, ok := s.feeds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return f, nil
}

func (s *stubSessionStore) GetArticleSummary(_ context.Context, articleID int64) (*domain.ArticleSummary, error) {
	sum, ok := s.summaries[articleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sum, nil
}

// stubDigestAssemblerStore satisfies digest's internal store interface so
// tests can build a real *digest.Assembler without the store package.
type stubDigestAssemblerStore struct {
	candidates []*domain.UserArticleSummary
	articles   map[int64]*domain.Article
}

func (s *stubDigestAssemblerStore) GetUserVector(context.Context, int64) ([]float32, error) {
	return nil, nil
}
func (s *stubDigestAssemblerStore) GetArticleVector(context.Context, int64) ([]float32, error) {
	return nil, nil
}
func (s *stubDigestAssemblerStore) GetArticle(_ context.Context, id int64) (*domain.Article, error) {
	a, ok := s.articles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}
func (s *stubDigestAssemblerStore) DigestCandidates(context.Context, int64, int) ([]*domain.UserArticleSummary, error) {
	return s.candidates, nil
}
func (s *stubDigestAssemblerStore) PrimaryFeedForArticle(context.Context, int64) (int64, error) {
	return 0, domain.ErrNotFound
}
func (s *stubDigestAssemblerStore) AveragePublicationIntervalSeconds(context.Context, int64) (float64, error) {
	return 0, domain.ErrNotFound
}
func (s *stubDigestAssemblerStore) GetArticleSummary(context.Context, int64) (*domain.ArticleSummary, error) {
	return nil, domain.ErrNotFound
}
func (s *stubDigestAssemblerStore) ListPreferences(context.Context, int64) ([]*domain.UserPreference, error) {
	return nil, nil
}

type stubChatProvider struct {
	reply string
	err   error
}

func (p *stubChatProvider) Generate(context.Context, string, string, float64) (string, int, int, error) {
	return p.reply, 0, 0, p.err
}
func (p *stubChatProvider) Summarize(context.Context, string, string, float64) (string, int, int, error) {
	return p.reply, 0, 0, p.err
}
func (p *stubChatProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}

func newTestSession(t *testing.T, store *stubSessionStore, assembler *digest.Assembler, chat *stubChatProvider) *Session {
	t.Helper()
	return &Session{
		store:     store,
		assembler: assembler,
		chat:      chat,
		send:      make(chan Event, 32),
		done:      make(chan struct{}),
	}
}

func TestDeliverDigest_ReplaysHistoryInsteadOfReassemblingDigest(t *testing.T) {
	store := newStubSessionStore()
	store.messages[1] = []*domain.ChatMessage{
		{SessionID: 1, Author: "user", Message: "hi"},
		{SessionID: 1, Author: "assistant", Message: "hello"},
	}
	assemblerStore := &stubDigestAssemblerStore{articles: map[int64]*domain.Article{}}
	s := newTestSession(t, store, digest.New(assemblerStore), &stubChatProvider{})

	user := &domain.User{ID: 1}
	cards, err := s.deliverDigest(context.Background(), 1, user, "en", 600)
	require.NoError(t, err)
	assert.Nil(t, cards)

	close(s.send)
	var events []Event
	for ev := range s.send {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, EventHistory, events[0].Type)
	assert.Equal(t, "user", events[0].Role)
	assert.Equal(t, "hi", events[0].Content)
	assert.Equal(t, EventHistory, events[1].Type)
	assert.Equal(t, "assistant", events[1].Role)
}

func TestDeliverDigest_GreetsAndAssemblesFreshDigestWithNoHistory(t *testing.T) {
	store := newStubSessionStore()
	assemblerStore := &stubDigestAssemblerStore{
		articles: map[int64]*domain.Article{
			1: {ID: 1, CanonicalURL: "https://example.com/a"},
		},
		candidates: []*domain.UserArticleSummary{
			{ArticleID: 1, RelevanceScore: 0.9, IsRelevant: true, PersonalizedHeadline: "headline text here for budget filler words enough"},
		},
	}
	s := newTestSession(t, store, digest.New(assemblerStore), &stubChatProvider{})

	user := &domain.User{ID: 1, ReadingSpeedWPM: 200}
	cards, err := s.deliverDigest(context.Background(), 42, user, "en", 60)
	require.NoError(t, err)
	require.Len(t, cards, 1)

	close(s.send)
	var sawGreeting, sawNotification, sawCard, sawHide bool
	for ev := range s.send {
		switch ev.Type {
		case EventMessage:
			sawGreeting = true
			assert.Equal(t, greetings["en"], ev.Content)
		case EventNotification:
			sawNotification = true
			assert.Equal(t, "Press review ready", ev.Title)
		case EventNewsCard:
			sawCard = true
			require.NotNil(t, ev.Article)
			assert.Equal(t, int64(1), ev.Article.ID)
		case EventProgressHide:
			sawHide = true
		}
	}
	assert.True(t, sawGreeting, "expected a greeting message event")
	assert.True(t, sawNotification, "expected a press-review-ready notification")
	assert.True(t, sawCard, "expected a news card event")
	assert.True(t, sawHide, "expected a progress_hide event")
	assert.Len(t, store.messages[42], 1) // greeting persisted as an assistant turn
	assert.Len(t, store.views, 1)
}

func TestReplayHistory_TruncatesToHistoryTurnLimit(t *testing.T) {
	store := newStubSessionStore()
	s := newTestSession(t, store, nil, &stubChatProvider{})

	var history []*domain.ChatMessage
	for i := 0; i < historyTurnLimit+5; i++ {
		history = append(history, &domain.ChatMessage{Author: "user", Message: "msg"})
	}

	s.replayHistory(history)
	close(s.send)

	count := 0
	for range s.send {
		count++
	}
	assert.Equal(t, historyTurnLimit, count)
}

func TestHandleChatTurn_EmitsReplyAndPersistsBothTurns(t *testing.T) {
	store := newStubSessionStore()
	s := newTestSession(t, store, nil, &stubChatProvider{reply: "here's what I found"})

	s.handleChatTurn(context.Background(), 7, "articles...", "what happened today?")

	require.Len(t, store.messages[7], 2)
	assert.Equal(t, "user", store.messages[7][0].Author)
	assert.Equal(t, "assistant", store.messages[7][1].Author)
	assert.Equal(t, "here's what I found", store.messages[7][1].Message)

	close(s.send)
	var gotReply bool
	for ev := range s.send {
		if ev.Type == EventMessage && ev.Content == "here's what I found" {
			gotReply = true
		}
	}
	assert.True(t, gotReply)
}

func TestHandleChatTurn_NotifiesOnProviderFailure(t *testing.T) {
	store := newStubSessionStore()
	s := newTestSession(t, store, nil, &stubChatProvider{err: assertError{}})

	s.handleChatTurn(context.Background(), 7, "articles...", "hello")

	close(s.send)
	var sawNotification bool
	for ev := range s.send {
		if ev.Type == EventNotification {
			sawNotification = true
		}
	}
	assert.True(t, sawNotification)
	// The user's turn is still recorded even though the assistant never replied.
	require.Len(t, store.messages[7], 1)
}

type assertError struct{}

func (assertError) Error() string { return "provider unavailable" }
