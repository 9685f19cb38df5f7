package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mynewslens/internal/domain"
)

// CreateSession opens a new streaming session for a user.
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) (int64, error) {
	var id int64
	err := withTiming("create_session", func() error {
		res, err := s.cb.ExecContext(ctx, `
			INSERT INTO sessions (user_id, start_at, duration_requested_seconds, title)
			VALUES (?, CURRENT_TIMESTAMP, ?, ?)
		`, sess.UserID, sess.DurationRequestedSecs, sess.Title)
		if err != nil {
			return fmt.Errorf("%w: create session: %v", domain.ErrStorage, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: read inserted session id: %v", domain.ErrStorage, err)
		}
		return nil
	})
	return id, err
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	var sess domain.Session
	err := withTiming("get_session", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, user_id, start_at, duration_requested_seconds, title, digest_summary_id FROM sessions WHERE id = ?
		`, id)
		if err := row.Scan(&sess.ID, &sess.UserID, &sess.StartAt, &sess.DurationRequestedSecs, &sess.Title, &sess.DigestSummaryID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: session %d", domain.ErrNotFound, id)
			}
			return fmt.Errorf("%w: get session: %v", domain.ErrStorage, err)
		}
		return nil
	})
	return &sess, err
}

// ListSessionsForUser returns a user's sessions, most recent first.
func (s *Store) ListSessionsForUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	var out []*domain.Session
	err := withTiming("list_sessions_for_user", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT id, user_id, start_at, duration_requested_seconds, title, digest_summary_id
			FROM sessions WHERE user_id = ? ORDER BY start_at DESC
		`, userID)
		if err != nil {
			return fmt.Errorf("%w: list sessions for user: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			sess := &domain.Session{}
			if err := rows.Scan(&sess.ID, &sess.UserID, &sess.StartAt, &sess.DurationRequestedSecs, &sess.Title, &sess.DigestSummaryID); err != nil {
				return fmt.Errorf("%w: scan session: %v", domain.ErrStorage, err)
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	return out, err
}

// AppendChatMessage records one turn of a session's conversation.
func (s *Store) AppendChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	return withTiming("append_chat_message", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO chat_messages (session_id, author, message, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		`, msg.SessionID, msg.Author, msg.Message)
		if err != nil {
			return fmt.Errorf("%w: append chat message: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// ListChatMessages returns a session's transcript, oldest first.
func (s *Store) ListChatMessages(ctx context.Context, sessionID int64) ([]*domain.ChatMessage, error) {
	var out []*domain.ChatMessage
	err := withTiming("list_chat_messages", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT session_id, author, message, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC
		`, sessionID)
		if err != nil {
			return fmt.Errorf("%w: list chat messages: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			m := &domain.ChatMessage{}
			if err := rows.Scan(&m.SessionID, &m.Author, &m.Message, &m.CreatedAt); err != nil {
				return fmt.Errorf("%w: scan chat message: %v", domain.ErrStorage, err)
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// jobColumns lists the processing_jobs column set shared by scan helpers.
const jobColumns = `id, job_type, entity_id, status, llm_model, error_message, created_at, started_at, completed_at, prompt_tokens, completion_tokens, processing_time_ms`

func scanJob(row interface{ Scan(...any) error }) (*domain.ProcessingJob, error) {
	var j domain.ProcessingJob
	if err := row.Scan(&j.ID, &j.JobType, &j.EntityID, &j.Status, &j.LLMModel, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.PromptTokens, &j.CompletionTokens, &j.ProcessingTimeMS); err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob records a new pending processing job for an entity.
func (s *Store) CreateJob(ctx context.Context, job *domain.ProcessingJob) (int64, error) {
	var id int64
	err := withTiming("create_job", func() error {
		res, err := s.cb.ExecContext(ctx, `
			INSERT INTO processing_jobs (job_type, entity_id, status) VALUES (?, ?, ?)
		`, job.JobType, job.EntityID, domain.StatusPending)
		if err != nil {
			return fmt.Errorf("%w: create job: %v", domain.ErrStorage, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: read inserted job id: %v", domain.ErrStorage, err)
		}
		return nil
	})
	return id, err
}

// CompleteJob marks a job completed or failed, recording model/usage/timing.
func (s *Store) CompleteJob(ctx context.Context, jobID int64, status domain.ProcessingStatus, llmModel, errMsg string, promptTokens, completionTokens int, processingTimeMS int64) error {
	return withTiming("complete_job", func() error {
		_, err := s.cb.ExecContext(ctx, `
			UPDATE processing_jobs SET
				status = ?, llm_model = ?, error_message = ?, completed_at = CURRENT_TIMESTAMP,
				prompt_tokens = ?, completion_tokens = ?, processing_time_ms = ?
			WHERE id = ?
		`, status, llmModel, errMsg, promptTokens, completionTokens, processingTimeMS, jobID)
		if err != nil {
			return fmt.Errorf("%w: complete job: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// StartJob marks a pending job running.
func (s *Store) StartJob(ctx context.Context, jobID int64) error {
	return withTiming("start_job", func() error {
		_, err := s.cb.ExecContext(ctx, `
			UPDATE processing_jobs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?
		`, domain.StatusRunning, jobID)
		if err != nil {
			return fmt.Errorf("%w: start job: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// ListJobsForEntity returns the job history for one entity, newest first.
func (s *Store) ListJobsForEntity(ctx context.Context, jobType string, entityID int64) ([]*domain.ProcessingJob, error) {
	var out []*domain.ProcessingJob
	err := withTiming("list_jobs_for_entity", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM processing_jobs WHERE job_type = ? AND entity_id = ? ORDER BY created_at DESC
		`, jobType, entityID)
		if err != nil {
			return fmt.Errorf("%w: list jobs for entity: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			j, scanErr := scanJob(rows)
			if scanErr != nil {
				return fmt.Errorf("%w: scan job: %v", domain.ErrStorage, scanErr)
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}
