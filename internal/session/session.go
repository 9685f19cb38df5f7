// Package session drives a single reading session over a WebSocket
// connection: it replays any prior conversation or greets the reader,
// assembles a digest, streams refined news cards at a conversational pace,
// then hands off into an idle chat phase, recording every rating and chat
// turn as it goes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"mynewslens/internal/digest"
	"mynewslens/internal/domain"
	"mynewslens/internal/interestvector"
	"mynewslens/internal/llm"
)

// cardPacing is the inter-card delay so cards read like they're being
// delivered one at a time rather than dumped.
const cardPacing = 200 * time.Millisecond

// historyTurnLimit bounds how much prior conversation is replayed to the
// client and handed to the chat model as context.
const historyTurnLimit = 10

// articleContextMaxChars bounds how much of each displayed article's text
// is kept in the idle-phase chat context.
const articleContextMaxChars = 500

const chatSystemPrompt = `You are a helpful news assistant discussing the articles just shown to the reader. Answer concisely, in the reader's language, and only about these articles unless asked otherwise.`

// sessionStore is the subset of store.Store the session depends on.
type sessionStore interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetSession(ctx context.Context, id int64) (*domain.Session, error)
	AppendChatMessage(ctx context.Context, msg *domain.ChatMessage) error
	ListChatMessages(ctx context.Context, sessionID int64) ([]*domain.ChatMessage, error)
	RecordView(ctx context.Context, v *domain.ArticleView) error
	RateArticleView(ctx context.Context, userID, articleID int64, rating int) error
	GetArticleVector(ctx context.Context, articleID int64) ([]float32, error)
	PrimaryFeedForArticle(ctx context.Context, articleID int64) (int64, error)
	GetFeed(ctx context.Context, id int64) (*domain.Feed, error)
	GetArticleSummary(ctx context.Context, articleID int64) (*domain.ArticleSummary, error)
}

// Session owns one WebSocket connection's lifecycle from greeting or
// history replay through digest delivery and idle chat.
type Session struct {
	conn      *websocket.Conn
	store     sessionStore
	assembler *digest.Assembler
	chat      llm.Provider
	interests *interestvector.Updater

	acceptLanguage string

	send   chan Event
	done   chan struct{}
	userID int64
}

// New builds a Session bound to an already-upgraded WebSocket connection.
// acceptLanguage is the request's Accept-Language header, used to localize
// the greeting/closing messages when the user profile has no preferred
// language set.
func New(conn *websocket.Conn, store sessionStore, assembler *digest.Assembler, chat llm.Provider, interests *interestvector.Updater, acceptLanguage string) *Session {
	return &Session{
		conn:           conn,
		store:          store,
		assembler:      assembler,
		chat:           chat,
		interests:      interests,
		acceptLanguage: acceptLanguage,
		send:           make(chan Event, 32),
		done:           make(chan struct{}),
	}
}

// Run drives the full session lifecycle over a WebSocket connection bound to
// an already-created session row (created by the HTTP layer's POST
// /sessions) and blocks until the connection closes or ctx is cancelled. It
// owns the only goroutine that writes to the connection (writePump), so
// event ordering per connection is never interleaved.
//
// Lifecycle: connect -> greeting or history replay -> digest -> cards ->
// idle chat -> close.
func (s *Session) Run(ctx context.Context, sessionID int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writePump(ctx)
	incoming := make(chan Event, 8)
	go s.readPump(ctx, incoming)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.userID = sess.UserID

	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	lang := userLanguage(user, s.acceptLanguage)

	shown, err := s.deliverDigest(ctx, sessionID, user, lang, sess.DurationRequestedSecs)
	if err != nil {
		s.emit(Event{Type: EventNotification, Title: "Digest unavailable", Body: "could not assemble today's digest"})
		slog.Error("session: digest assembly failed", slog.Int64("session_id", sessionID), slog.Any("error", err))
	}

	s.idleChatLoop(ctx, sessionID, shown, incoming)

	s.sendClosing(ctx, sessionID, lang)
	return nil
}

// deliverDigest implements steps 1-6 of the connect lifecycle: replay prior
// history if this session already has messages, otherwise greet the reader
// and assemble a fresh digest, stream each card (JIT refined, paced,
// recording the view), then hide the progress indicator. The closing
// message is sent by Run after the idle chat phase.
func (s *Session) deliverDigest(ctx context.Context, sessionID int64, user *domain.User, lang string, durationSeconds int) ([]digest.Card, error) {
	history, err := s.store.ListChatMessages(ctx, sessionID)
	if err != nil {
		slog.Warn("session: list chat messages failed", slog.Int64("session_id", sessionID), slog.Any("error", err))
	}
	if len(history) > 0 {
		s.replayHistory(history)
		return nil, nil
	}

	s.sendGreeting(ctx, sessionID, lang)

	cards, err := s.assembler.Assemble(ctx, user, durationSeconds)
	if err != nil {
		return nil, fmt.Errorf("assemble digest: %w", err)
	}

	s.emit(Event{Type: EventNotification, Title: "Press review ready", Body: fmt.Sprintf("%d articles selected for you", len(cards))})

	for i, c := range cards {
		s.emit(Event{Type: EventProgress, Message: "preparing your digest", Current: i + 1, Total: len(cards)})

		title, summary := refine(ctx, s.chat, c.Summary.PersonalizedHeadline, c.Summary.PersonalizedBullets)
		s.emit(Event{
			Type:    EventNewsCard,
			Article: s.buildNewsCard(ctx, c, title, summary),
		})

		if err := s.store.RecordView(ctx, &domain.ArticleView{UserID: user.ID, ArticleID: c.Article.ID, SessionID: &sessionID}); err != nil {
			slog.Warn("session: record view failed", slog.Int64("article_id", c.Article.ID), slog.Any("error", err))
		}
		if vec, err := s.store.GetArticleVector(ctx, c.Article.ID); err == nil && len(vec) > 0 {
			if err := s.interests.UpdateOnInteraction(ctx, user.ID, vec, interestvector.WeightView); err != nil {
				slog.Warn("session: interest vector update failed", slog.Int64("user_id", user.ID), slog.Any("error", err))
			}
		}

		select {
		case <-ctx.Done():
			return cards[:i+1], ctx.Err()
		case <-time.After(cardPacing):
		}
	}

	s.emit(Event{Type: EventProgressHide})
	return cards, nil
}

// buildNewsCard resolves the card's source feed name, theme and language for
// the wire shape; any lookup failure degrades to an empty field rather than
// aborting card delivery.
func (s *Session) buildNewsCard(ctx context.Context, c digest.Card, title, summary string) *NewsCard {
	card := &NewsCard{
		ID:      c.Article.ID,
		Title:   title,
		Summary: summary,
		URL:     c.Article.CanonicalURL,
		Lang:    c.Summary.Language,
	}

	if feedID, err := s.store.PrimaryFeedForArticle(ctx, c.Article.ID); err == nil {
		if feed, err := s.store.GetFeed(ctx, feedID); err == nil {
			card.Source.Name = feed.Title
		}
	}
	if summaryRow, err := s.store.GetArticleSummary(ctx, c.Article.ID); err == nil && len(summaryRow.Categories) > 0 {
		card.Theme = string(summaryRow.Categories[0])
	}
	return card
}

// replayHistory re-emits a session's stored conversation as a sequence of
// history events, one per message, carrying role/content per the documented
// wire schema.
func (s *Session) replayHistory(history []*domain.ChatMessage) {
	if len(history) > historyTurnLimit {
		history = history[len(history)-historyTurnLimit:]
	}
	for _, m := range history {
		s.emit(Event{Type: EventHistory, Role: m.Author, Content: m.Message})
	}
}

func (s *Session) sendGreeting(ctx context.Context, sessionID int64, lang string) {
	greeting := localizedGreeting(lang)
	s.emit(Event{Type: EventMessage, Content: greeting})
	if err := s.store.AppendChatMessage(ctx, &domain.ChatMessage{SessionID: sessionID, Author: "assistant", Message: greeting}); err != nil {
		slog.Warn("session: append greeting failed", slog.Any("error", err))
	}
}

func (s *Session) sendClosing(ctx context.Context, sessionID int64, lang string) {
	closing := localizedClosing(lang)
	s.emit(Event{Type: EventMessage, Content: closing})
	if err := s.store.AppendChatMessage(ctx, &domain.ChatMessage{SessionID: sessionID, Author: "assistant", Message: closing}); err != nil {
		slog.Warn("session: append closing message failed", slog.Any("error", err))
	}
}

// idleChatLoop handles the conversational phase after the digest has been
// delivered (or history replayed): the client can ask about the shown
// articles or rate any of them, until the connection closes.
func (s *Session) idleChatLoop(ctx context.Context, sessionID int64, shown []digest.Card, incoming chan Event) {
	articleContext := compactArticleContext(shown)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-incoming:
			if !ok {
				return
			}
			switch ev.Type {
			case EventClientMessage:
				s.handleChatTurn(ctx, sessionID, articleContext, ev.Content)
			case EventClientRate:
				s.handleRate(ctx, sessionID, ev)
			}
		}
	}
}

func (s *Session) handleChatTurn(ctx context.Context, sessionID int64, articleContext, text string) {
	if err := s.store.AppendChatMessage(ctx, &domain.ChatMessage{SessionID: sessionID, Author: "user", Message: text}); err != nil {
		slog.Warn("session: append chat message failed", slog.Any("error", err))
	}

	history, _ := s.store.ListChatMessages(ctx, sessionID)
	prompt := articleContext + "\n\n" + renderHistory(history, historyTurnLimit) + "\nuser: " + text

	reply, _, _, err := s.chat.Generate(ctx, chatSystemPrompt, prompt, llm.DefaultTemperature)
	if err != nil {
		s.emit(Event{Type: EventNotification, Title: "Assistant unavailable", Body: "could not reach the assistant right now"})
		return
	}

	if err := s.store.AppendChatMessage(ctx, &domain.ChatMessage{SessionID: sessionID, Author: "assistant", Message: reply}); err != nil {
		slog.Warn("session: append assistant reply failed", slog.Any("error", err))
	}
	s.emit(Event{Type: EventMessage, Content: reply})
}

func (s *Session) handleRate(ctx context.Context, sessionID int64, ev Event) {
	vec, err := s.store.GetArticleVector(ctx, ev.ArticleID)
	if err != nil || len(vec) == 0 {
		return
	}
	if err := s.interests.UpdateOnInteraction(ctx, s.userID, vec, interestvector.WeightRate); err != nil {
		slog.Warn("session: rate-driven interest update failed", slog.Int64("user_id", s.userID), slog.Any("error", err))
	}

	if err := s.store.RateArticleView(ctx, s.userID, ev.ArticleID, ev.Rating); err != nil {
		slog.Warn("session: record rating failed", slog.Int64("article_id", ev.ArticleID), slog.Any("error", err))
	}
}

// emit queues an outbound event for the single writer goroutine. It never
// blocks the caller indefinitely: a full buffer drops the event rather than
// stalling digest delivery, which would otherwise wedge a slow client's
// entire session.
func (s *Session) emit(ev Event) {
	select {
	case s.send <- ev:
	default:
		slog.Warn("session: send buffer full, dropping event", slog.String("type", string(ev.Type)))
	}
}

func (s *Session) writePump(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.send:
			if err := s.conn.WriteJSON(ev); err != nil {
				slog.Warn("session: write failed, closing", slog.Any("error", err))
				return
			}
		}
	}
}

func (s *Session) readPump(ctx context.Context, incoming chan<- Event) {
	defer close(incoming)
	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return
		}
		select {
		case incoming <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func renderHistory(msgs []*domain.ChatMessage, limit int) string {
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := ""
	for _, m := range msgs {
		out += m.Author + ": " + m.Message + "\n"
	}
	return out
}

func compactArticleContext(cards []digest.Card) string {
	out := "Articles shown this session:\n"
	for _, c := range cards {
		content := c.Summary.PersonalizedHeadline + " " + joinBullets(c.Summary.PersonalizedBullets)
		if len(content) > articleContextMaxChars {
			content = content[:articleContextMaxChars]
		}
		out += "- " + content + "\n"
	}
	return out
}

func joinBullets(bullets []string) string {
	out := ""
	for _, b := range bullets {
		out += b + " "
	}
	return out
}

// userLanguage resolves the reader's language for greeting/closing copy: the
// profile's preferred language first, then the first tag of an
// Accept-Language-style header, then English.
func userLanguage(user *domain.User, acceptLanguage string) string {
	if user.PreferredLang != "" {
		return user.PreferredLang
	}
	if acceptLanguage != "" {
		tag := strings.SplitN(acceptLanguage, ",", 2)[0]
		tag = strings.SplitN(tag, ";", 2)[0]
		tag = strings.SplitN(strings.TrimSpace(tag), "-", 2)[0]
		if tag != "" {
			return tag
		}
	}
	return "en"
}

var greetings = map[string]string{
	"en": "Welcome back — let's catch you up on today's news.",
	"fr": "Bienvenue — voici votre revue de presse du jour.",
	"es": "Bienvenido — aquí tienes tu resumen de noticias de hoy.",
}

var closings = map[string]string{
	"en": "That's your digest for today. Feel free to ask me anything about it.",
	"fr": "Voilà pour votre revue de presse. N'hésitez pas à me poser des questions.",
	"es": "Eso es todo por hoy. Pregúntame lo que quieras sobre las noticias.",
}

func localizedGreeting(lang string) string {
	if msg, ok := greetings[lang]; ok {
		return msg
	}
	return greetings["en"]
}

func localizedClosing(lang string) string {
	if msg, ok := closings[lang]; ok {
		return msg
	}
	return closings["en"]
}
