package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mynewslens/internal/domain"
	"mynewslens/internal/httpapi/auth"
	"mynewslens/internal/httpapi/respond"
	"mynewslens/internal/session"
)

// defaultSessionDurationSeconds is used when a POST /sessions caller omits
// duration_seconds.
const defaultSessionDurationSeconds = 600

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Status         string   `json:"status"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	UsersCount     int      `json:"users_count"`
	SchedulerTimes []string `json:"scheduler_times"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, statusResponse{
		Status:         "ok",
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		UsersCount:     len(users),
		SchedulerTimes: s.cfg.Scheduler.Times,
	})
}

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type tokenResponse struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, &domain.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	if req.Username == "" || req.Password == "" {
		respond.Error(w, &domain.ValidationError{Field: "username/password", Message: "both are required"})
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respond.Error(w, err)
		return
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}
	userID, err := s.store.CreateUser(r.Context(), &domain.User{
		Username:        req.Username,
		DisplayName:     displayName,
		PasswordHash:    hash,
		PreferredLang:   "en",
		ComplexityLevel: "general",
		ReadingSpeedWPM: 200,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	token, err := auth.IssueToken(s.jwtSecret, userID, auth.DefaultTTL)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, tokenResponse{UserID: userID, Token: token})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, &domain.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		respond.Error(w, fmt.Errorf("%w: bad credentials", domain.ErrUnauthorized))
		return
	}
	token, err := auth.IssueToken(s.jwtSecret, user.ID, auth.DefaultTTL)
	if err != nil {
		respond.Error(w, err)
		return
	}
	_ = s.store.TouchLastLogin(r.Context(), user.ID)
	respond.JSON(w, http.StatusOK, tokenResponse{UserID: user.ID, Token: token})
}

func (s *Server) handleListConfiguredUsers(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, toConfiguredUserDTOs(s.cfg.Users))
}

// resolveUserID implements the "user_id, falling back to token's sub" rule
// shared by every endpoint that accepts either.
func (s *Server) resolveUserID(explicit int64, token string, r *http.Request) (int64, error) {
	if explicit != 0 {
		return explicit, nil
	}
	if token != "" {
		return auth.ParseToken(s.jwtSecret, token)
	}
	return auth.FromRequest(s.jwtSecret, r)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var explicit int64
	if v := q.Get("user_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respond.Error(w, &domain.ValidationError{Field: "user_id", Message: "must be numeric"})
			return
		}
		explicit = parsed
	}
	userID, err := s.resolveUserID(explicit, q.Get("token"), r)
	if err != nil {
		respond.Error(w, err)
		return
	}

	subs, err := s.store.ListSubscriptionsForUser(r.Context(), userID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	rows := make([]feedRow, 0, len(subs))
	for _, sub := range subs {
		feed, err := s.store.GetFeed(r.Context(), sub.FeedID)
		if err != nil {
			continue
		}
		rows = append(rows, feedRow{
			ID:                  feed.ID,
			SubscriptionID:      sub.ID,
			URL:                 feed.URL,
			Title:               feed.Title,
			SiteURL:             feed.SiteURL,
			Status:              feed.Status,
			LastChecked:         feed.LastChecked,
			NextPollAt:          feed.NextPollAt,
			PollIntervalMinutes: feed.PollIntervalMinutes,
			AdaptiveScheduling:  feed.AdaptiveScheduling,
			Weight:              sub.Weight,
		})
	}
	respond.JSON(w, http.StatusOK, rows)
}

type createFeedRequest struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

type createFeedResponse struct {
	ID             int64  `json:"id"`
	SubscriptionID int64  `json:"subscription_id"`
	Message        string `json:"message,omitempty"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, &domain.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	if req.URL == "" {
		respond.Error(w, &domain.ValidationError{Field: "url", Message: "required"})
		return
	}
	userID, err := s.resolveUserID(req.UserID, req.Token, r)
	if err != nil {
		respond.Error(w, err)
		return
	}

	feed, err := s.store.UpsertFeed(r.Context(), req.URL, req.Title)
	if err != nil {
		respond.Error(w, err)
		return
	}

	existing, err := s.store.ListSubscriptionsForUser(r.Context(), userID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	for _, sub := range existing {
		if sub.FeedID == feed.ID {
			respond.JSON(w, http.StatusOK, createFeedResponse{ID: feed.ID, SubscriptionID: sub.ID, Message: "Already subscribed"})
			return
		}
	}

	subID, err := s.store.CreateSubscription(r.Context(), &domain.Subscription{
		UserID: userID,
		FeedID: feed.ID,
		Title:  req.Title,
		Weight: 1.0,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, createFeedResponse{ID: feed.ID, SubscriptionID: subID})
}

type fetchRequest struct {
	FeedID int64 `json:"feed_id"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FeedID == 0 {
		respond.Error(w, &domain.ValidationError{Field: "feed_id", Message: "required"})
		return
	}
	feed, err := s.store.GetFeed(r.Context(), req.FeedID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	go s.scheduler.TriggerNow(context.Background(), feed)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleProcessPending(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx := context.Background()
		articles, err := s.store.ListArticlesByStatus(ctx, domain.StatusPending, s.pendingCap)
		if err != nil {
			s.logger.Error("process-pending: list pending articles failed", "error", err)
			return
		}
		ids := make([]int64, 0, len(articles))
		for _, a := range articles {
			ids = append(ids, a.ID)
		}
		s.pipeline.ProcessBatch(ctx, ids)
	}()
	w.WriteHeader(http.StatusAccepted)
}

type createSessionRequest struct {
	UserID          int64 `json:"user_id"`
	DurationSeconds int   `json:"duration_seconds"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		respond.Error(w, &domain.ValidationError{Field: "user_id", Message: "required"})
		return
	}
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = defaultSessionDurationSeconds
	}
	id, err := s.store.CreateSession(r.Context(), &domain.Session{UserID: req.UserID, DurationRequestedSecs: duration})
	if err != nil {
		respond.Error(w, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toSessionDTO(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("user_id")
	userID, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		respond.Error(w, &domain.ValidationError{Field: "user_id", Message: "must be numeric"})
		return
	}
	sessions, err := s.store.ListSessionsForUser(r.Context(), userID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionDTO(sess))
	}
	respond.JSON(w, http.StatusOK, out)
}

type sessionDetailResponse struct {
	Session  sessionDTO       `json:"session"`
	Messages []chatMessageDTO `json:"messages"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respond.Error(w, &domain.ValidationError{Field: "id", Message: "must be numeric"})
		return
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}
	msgs, err := s.store.ListChatMessages(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, sessionDetailResponse{Session: toSessionDTO(sess), Messages: toChatMessageDTOs(msgs)})
}

// handleWSChat upgrades the connection and drives one session streamer until
// the connection closes, per spec one streamer task per connected session.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil {
		respond.Error(w, &domain.ValidationError{Field: "session_id", Message: "must be numeric"})
		return
	}
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		respond.Error(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := session.New(conn, s.store, s.assembler, s.chat, s.interests, r.Header.Get("Accept-Language"))
	if err := sess.Run(r.Context(), id); err != nil {
		s.logger.Warn("session run ended", "session_id", id, "error", err)
	}
	_ = conn.Close()
}
