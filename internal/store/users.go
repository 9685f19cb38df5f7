package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"mynewslens/internal/domain"
)

// CreateUser inserts a new user with an already-hashed password.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) (int64, error) {
	var id int64
	err := withTiming("create_user", func() error {
		interests, err := json.Marshal(u.Interests)
		if err != nil {
			return fmt.Errorf("%w: marshal interests: %v", domain.ErrInternal, err)
		}
		res, execErr := s.cb.ExecContext(ctx, `
			INSERT INTO users (username, display_name, password_hash, preferred_language, complexity_level, reading_speed_wpm, interests)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, u.Username, u.DisplayName, u.PasswordHash, u.PreferredLang, u.ComplexityLevel, u.ReadingSpeedWPM, string(interests))
		if execErr != nil {
			return fmt.Errorf("%w: create user: %v", domain.ErrConflict, execErr)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: read inserted user id: %v", domain.ErrStorage, err)
		}
		return nil
	})
	return id, err
}

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var interests string
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.PreferredLang,
		&u.ComplexityLevel, &u.ReadingSpeedWPM, &interests, &u.LastLogin, &u.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(interests), &u.Interests); err != nil {
		return nil, fmt.Errorf("%w: unmarshal interests: %v", domain.ErrInternal, err)
	}
	return &u, nil
}

const userColumns = `id, username, display_name, password_hash, preferred_language, complexity_level, reading_speed_wpm, interests, last_login, created_at`

// GetUserByUsername fetches a user by their unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u *domain.User
	err := withTiming("get_user_by_username", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
		user, scanErr := scanUser(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: user %q", domain.ErrNotFound, username)
			}
			return fmt.Errorf("%w: get user by username: %v", domain.ErrStorage, scanErr)
		}
		u = user
		return nil
	})
	return u, err
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u *domain.User
	err := withTiming("get_user", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
		user, scanErr := scanUser(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
			}
			return fmt.Errorf("%w: get user: %v", domain.ErrStorage, scanErr)
		}
		u = user
		return nil
	})
	return u, err
}

// ListUsers returns every registered user, for the pipeline's per-subscriber
// personalization and the HTTP handlers that iterate over all accounts.
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var out []*domain.User
	err := withTiming("list_users", func() error {
		rows, err := s.cb.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
		if err != nil {
			return fmt.Errorf("%w: list users: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			u, scanErr := scanUser(rows)
			if scanErr != nil {
				return fmt.Errorf("%w: scan user: %v", domain.ErrStorage, scanErr)
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}

// TouchLastLogin stamps a user's last_login to now.
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	return withTiming("touch_last_login", func() error {
		_, err := s.cb.ExecContext(ctx, `UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?`, userID)
		if err != nil {
			return fmt.Errorf("%w: touch last login: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// UpdateUserProfile conditionally updates a user's display name and/or
// password hash, leaving either column untouched when passed empty — the
// configured-user-roster sync only ever overwrites fields the config names.
func (s *Store) UpdateUserProfile(ctx context.Context, userID int64, displayName, passwordHash string) error {
	if displayName == "" && passwordHash == "" {
		return nil
	}
	return withTiming("update_user_profile", func() error {
		query := "UPDATE users SET "
		args := make([]interface{}, 0, 3)
		if displayName != "" {
			query += "display_name = ?"
			args = append(args, displayName)
		}
		if passwordHash != "" {
			if len(args) > 0 {
				query += ", "
			}
			query += "password_hash = ?"
			args = append(args, passwordHash)
		}
		query += " WHERE id = ?"
		args = append(args, userID)
		if _, err := s.cb.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: update user profile: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// SaveUserVector upserts a user's interest vector.
func (s *Store) SaveUserVector(ctx context.Context, userID int64, vector []float32) error {
	return withTiming("save_user_vector", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO user_vectors (user_id, vector) VALUES (?, ?)
			ON CONFLICT(user_id) DO UPDATE SET vector = excluded.vector
		`, userID, domain.EncodeVector(vector))
		if err != nil {
			return fmt.Errorf("%w: save user vector: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// GetUserVector returns a user's interest vector, or (nil, nil) if the user
// has not yet had one initialized.
func (s *Store) GetUserVector(ctx context.Context, userID int64) ([]float32, error) {
	var blob []byte
	err := withTiming("get_user_vector", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT vector FROM user_vectors WHERE user_id = ?`, userID)
		if err := row.Scan(&blob); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("%w: get user vector: %v", domain.ErrStorage, err)
		}
		return nil
	})
	if err != nil || blob == nil {
		return nil, err
	}
	return domain.DecodeVector(blob)
}

// UpsertPreference sets an additive interest-vector knob for a user.
func (s *Store) UpsertPreference(ctx context.Context, p *domain.UserPreference) error {
	return withTiming("upsert_preference", func() error {
		_, err := s.cb.ExecContext(ctx, `
			INSERT INTO user_preferences (user_id, preference_type, preference_key, preference_value)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, preference_type, preference_key) DO UPDATE SET preference_value = excluded.preference_value
		`, p.UserID, p.PreferenceType, p.PreferenceKey, p.PreferenceValue)
		if err != nil {
			return fmt.Errorf("%w: upsert preference: %v", domain.ErrStorage, err)
		}
		return nil
	})
}

// ListPreferences returns all additive knobs for a user.
func (s *Store) ListPreferences(ctx context.Context, userID int64) ([]*domain.UserPreference, error) {
	var out []*domain.UserPreference
	err := withTiming("list_preferences", func() error {
		rows, err := s.cb.QueryContext(ctx, `
			SELECT user_id, preference_type, preference_key, preference_value FROM user_preferences WHERE user_id = ?
		`, userID)
		if err != nil {
			return fmt.Errorf("%w: list preferences: %v", domain.ErrStorage, err)
		}
		defer rows.Close()
		for rows.Next() {
			p := &domain.UserPreference{}
			if err := rows.Scan(&p.UserID, &p.PreferenceType, &p.PreferenceKey, &p.PreferenceValue); err != nil {
				return fmt.Errorf("%w: scan preference: %v", domain.ErrStorage, err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}
