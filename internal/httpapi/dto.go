package httpapi

import (
	"time"

	"mynewslens/internal/config"
	"mynewslens/internal/domain"
)

// feedRow is one subscribed feed as returned by GET /feeds, joining a
// feed's own state with the caller's subscription to it.
type feedRow struct {
	ID                  int64      `json:"id"`
	SubscriptionID      int64      `json:"subscription_id"`
	URL                 string     `json:"url"`
	Title               string     `json:"title"`
	SiteURL             string     `json:"site_url"`
	Status              string     `json:"status"`
	LastChecked         *time.Time `json:"last_checked,omitempty"`
	NextPollAt          *time.Time `json:"next_poll_at,omitempty"`
	PollIntervalMinutes int        `json:"poll_interval_minutes"`
	AdaptiveScheduling  bool       `json:"adaptive_scheduling"`
	Weight              float64    `json:"weight"`
}

// sessionDTO is the JSON shape for a Session, matching the domain entity but
// with explicit tags rather than exposing store-internal field names.
type sessionDTO struct {
	ID                    int64      `json:"id"`
	UserID                int64      `json:"user_id"`
	StartAt               time.Time  `json:"start_at"`
	DurationRequestedSecs int        `json:"duration_requested_seconds"`
	Title                 string     `json:"title,omitempty"`
	DigestSummaryID       *int64     `json:"digest_summary_id,omitempty"`
}

func toSessionDTO(s *domain.Session) sessionDTO {
	return sessionDTO{
		ID:                    s.ID,
		UserID:                s.UserID,
		StartAt:               s.StartAt,
		DurationRequestedSecs: s.DurationRequestedSecs,
		Title:                 s.Title,
		DigestSummaryID:       s.DigestSummaryID,
	}
}

// chatMessageDTO is one turn of a session transcript.
type chatMessageDTO struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func toChatMessageDTOs(msgs []*domain.ChatMessage) []chatMessageDTO {
	out := make([]chatMessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessageDTO{Author: m.Author, Message: m.Message, CreatedAt: m.CreatedAt})
	}
	return out
}

// configuredUserDTO is a declarative roster entry from config, with its
// password hash stripped — GET /users exposes the seed roster, never
// credentials.
type configuredUserDTO struct {
	Username          string            `json:"username"`
	DisplayName       string            `json:"display_name,omitempty"`
	PreferredLanguage string            `json:"preferred_language,omitempty"`
	Feeds             []config.UserFeed `json:"feeds,omitempty"`
}

func toConfiguredUserDTOs(users []config.UserSeed) []configuredUserDTO {
	out := make([]configuredUserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, configuredUserDTO{
			Username:          u.Username,
			DisplayName:       u.DisplayName,
			PreferredLanguage: u.PreferredLanguage,
			Feeds:             u.Feeds,
		})
	}
	return out
}
