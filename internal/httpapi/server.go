// Package httpapi exposes MyNewsLens over HTTP and WebSocket: account
// registration and login, feed subscription management, fire-and-forget
// ingestion triggers, and the session streamer's connect endpoint.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mynewslens/internal/config"
	"mynewslens/internal/digest"
	"mynewslens/internal/domain"
	"mynewslens/internal/httpapi/requestid"
	"mynewslens/internal/interestvector"
	"mynewslens/internal/llm"
	"mynewslens/internal/observability/tracing"
)

// apiStore is the subset of store.Store the HTTP layer depends on.
type apiStore interface {
	CreateUser(ctx context.Context, u *domain.User) (int64, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	TouchLastLogin(ctx context.Context, userID int64) error
	ListUsers(ctx context.Context) ([]*domain.User, error)

	UpsertFeed(ctx context.Context, url, title string) (*domain.Feed, error)
	GetFeed(ctx context.Context, id int64) (*domain.Feed, error)
	CreateSubscription(ctx context.Context, sub *domain.Subscription) (int64, error)
	ListSubscriptionsForUser(ctx context.Context, userID int64) ([]*domain.Subscription, error)

	ListArticlesByStatus(ctx context.Context, status domain.ProcessingStatus, limit int) ([]*domain.Article, error)

	CreateSession(ctx context.Context, sess *domain.Session) (int64, error)
	GetSession(ctx context.Context, id int64) (*domain.Session, error)
	ListChatMessages(ctx context.Context, sessionID int64) ([]*domain.ChatMessage, error)
	ListSessionsForUser(ctx context.Context, userID int64) ([]*domain.Session, error)
	AppendChatMessage(ctx context.Context, msg *domain.ChatMessage) error
	RecordView(ctx context.Context, v *domain.ArticleView) error
	RateArticleView(ctx context.Context, userID, articleID int64, rating int) error
	GetArticleVector(ctx context.Context, articleID int64) ([]float32, error)
}

// feedTrigger is the subset of the scheduler the /fetch endpoint drives.
type feedTrigger interface {
	TriggerNow(ctx context.Context, f *domain.Feed)
}

// batchProcessor is the subset of the pipeline the /process-pending endpoint drives.
type batchProcessor interface {
	ProcessBatch(ctx context.Context, articleIDs []int64)
}

// Server holds every dependency the HTTP/WebSocket surface needs.
type Server struct {
	store      apiStore
	cfg        *config.Config
	scheduler  feedTrigger
	pipeline   batchProcessor
	assembler  *digest.Assembler
	chat       llm.Provider
	interests  *interestvector.Updater
	jwtSecret  []byte
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	startedAt  time.Time
	pendingCap int
}

// Deps bundles the constructor arguments for Server.
type Deps struct {
	Store     apiStore
	Config    *config.Config
	Scheduler feedTrigger
	Pipeline  batchProcessor
	Assembler *digest.Assembler
	Chat      llm.Provider
	Interests *interestvector.Updater
	JWTSecret []byte
	Logger    *slog.Logger
}

// pendingBatchLimit bounds how many pending articles one /process-pending
// call dispatches, so a large backlog doesn't spawn an unbounded fan-out.
const pendingBatchLimit = 200

// New builds a Server ready to produce a routed http.Handler.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      d.Store,
		cfg:        d.Config,
		scheduler:  d.Scheduler,
		pipeline:   d.Pipeline,
		assembler:  d.Assembler,
		chat:       d.Chat,
		interests:  d.Interests,
		jwtSecret:  d.JWTSecret,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		logger:     logger,
		startedAt:  time.Now(),
		pendingCap: pendingBatchLimit,
	}
}

// Routes builds the full middleware-wrapped handler, under the /api/v1 prefix
// plus the bare /ws/chat upgrade endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/login", s.handleLogin)
	mux.HandleFunc("GET /api/v1/users", s.handleListConfiguredUsers)
	mux.HandleFunc("GET /api/v1/feeds", s.handleListFeeds)
	mux.HandleFunc("POST /api/v1/feeds", s.handleCreateFeed)
	mux.HandleFunc("POST /api/v1/fetch", s.handleFetch)
	mux.HandleFunc("POST /api/v1/process-pending", s.handleProcessPending)
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /ws/chat", s.handleWSChat)

	var h http.Handler = mux
	h = recoverPanic(s.logger)(h)
	h = logging(s.logger)(h)
	h = requestid.Middleware(h)
	h = tracing.Middleware(h)
	return h
}
