// Package store implements the single-file relational + vector persistence
// layer: a SQLite database with float32 BLOB vector columns and a registered
// cosine_distance SQL function standing in for a dedicated vector index.
//
// Store exposes only atomic, named operations; it never leaks a raw cursor
// to callers. Schema bootstrap is idempotent and a legacy single-table
// layout (a `user_id` column directly on `feeds`) is migrated into normalized
// feeds + subscriptions on open when autoMigrate is set.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mynewslens/internal/domain"
	"mynewslens/internal/observability/metrics"
	"mynewslens/internal/resilience/circuitbreaker"

	"github.com/mattn/go-sqlite3"
)

var registerOnce sync.Once

// driverName is the name this package registers its custom sqlite3 driver
// under. The driver adds a cosine_distance(blob, blob) scalar function so
// that nearest-neighbor vector queries can be expressed directly in SQL.
const driverName = "mynewslens-sqlite3"

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("cosine_distance", cosineDistanceSQL, true)
			},
		})
	})
}

// cosineDistanceSQL adapts domain.CosineDistance to sqlite3's custom
// function calling convention (blob arguments, float64 return).
func cosineDistanceSQL(a, b []byte) float64 {
	va, errA := domain.DecodeVector(a)
	vb, errB := domain.DecodeVector(b)
	if errA != nil || errB != nil {
		return 1
	}
	return domain.CosineDistance(va, vb)
}

// Store is the single source of truth for all persisted state.
type Store struct {
	db *sql.DB
	cb *circuitbreaker.DBCircuitBreaker
}

// Open creates the parent directory for path if needed, opens the SQLite
// file, applies pool settings suitable for a single-writer embedded database,
// and runs the idempotent schema bootstrap. autoMigrate additionally gates
// the one-time legacy-layout data migration (schema creation itself is
// always safe to run, since every statement is CREATE TABLE IF NOT EXISTS).
func Open(path string, autoMigrate bool) (*Store, error) {
	registerDriver()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create data directory: %v", domain.ErrStorage, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", domain.ErrStorage, err)
	}

	// SQLite allows only one writer at a time; keep the pool small so
	// mutation ordering is serialized at the SQL level, per the concurrency
	// model's "connection pool size ~5" guidance.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", domain.ErrStorage, err)
	}

	s := &Store{db: db, cb: circuitbreaker.NewDBCircuitBreaker(db)}
	if err := s.bootstrap(ctx, autoMigrate); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Info("store opened", slog.String("path", path))
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for health checks only; all mutation paths must
// go through the typed Store methods above.
func (s *Store) DB() *sql.DB {
	return s.db
}

// bootstrap creates every table and index if absent, then — when
// autoMigrate is set — migrates the legacy single-table feed+subscription
// layout if detected.
func (s *Store) bootstrap(ctx context.Context, autoMigrate bool) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSchemaMigration, err)
		}
	}
	if !autoMigrate {
		return nil
	}
	return s.migrateLegacyFeedsIfNeeded(ctx)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT,
		password_hash TEXT,
		preferred_language TEXT NOT NULL DEFAULT 'en',
		complexity_level TEXT NOT NULL DEFAULT 'medium',
		reading_speed_wpm INTEGER NOT NULL DEFAULT 250,
		interests TEXT NOT NULL DEFAULT '[]',
		last_login DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		site_url TEXT,
		last_checked DATETIME,
		status TEXT,
		next_poll_at DATETIME,
		poll_interval_minutes INTEGER NOT NULL DEFAULT 60,
		adaptive_scheduling BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		title TEXT,
		weight REAL NOT NULL DEFAULT 1.0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, feed_id)
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		canonical_url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		full_content TEXT NOT NULL DEFAULT '',
		published_at DATETIME,
		first_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		processing_status TEXT NOT NULL DEFAULT 'pending',
		processed_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS article_occurrences (
		article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		feed_item_id TEXT,
		discovered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (article_id, feed_id)
	)`,
	`CREATE TABLE IF NOT EXISTS article_summaries (
		article_id INTEGER PRIMARY KEY REFERENCES articles(id) ON DELETE CASCADE,
		headline TEXT NOT NULL,
		bullets TEXT NOT NULL,
		details TEXT,
		model TEXT,
		categories TEXT NOT NULL DEFAULT '[]',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS user_article_summaries (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		relevance_score REAL NOT NULL,
		relevance_reasons TEXT NOT NULL DEFAULT '[]',
		is_relevant BOOLEAN NOT NULL,
		personalized_headline TEXT,
		personalized_bullets TEXT NOT NULL DEFAULT '[]',
		personalized_details TEXT,
		language TEXT,
		complexity_level TEXT,
		summary_length TEXT,
		llm_model TEXT,
		tokens INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, article_id)
	)`,
	`CREATE TABLE IF NOT EXISTS article_vectors (
		article_id INTEGER PRIMARY KEY REFERENCES articles(id) ON DELETE CASCADE,
		vector BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_vectors (
		user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		vector BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS article_views (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		session_id INTEGER,
		viewed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		rating INTEGER,
		PRIMARY KEY (user_id, article_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		start_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		duration_requested_seconds INTEGER NOT NULL DEFAULT 1200,
		title TEXT,
		digest_summary_id INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		author TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_preferences (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		preference_type TEXT NOT NULL,
		preference_key TEXT NOT NULL,
		preference_value REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, preference_type, preference_key)
	)`,
	`CREATE TABLE IF NOT EXISTS processing_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		llm_model TEXT,
		error_message TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		started_at DATETIME,
		completed_at DATETIME,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_processing_status ON articles(processing_status)`,
	`CREATE INDEX IF NOT EXISTS idx_occurrences_feed ON article_occurrences(feed_id)`,
	`CREATE INDEX IF NOT EXISTS idx_feeds_next_poll ON feeds(next_poll_at)`,
	`CREATE INDEX IF NOT EXISTS idx_user_summaries_relevant ON user_article_summaries(user_id, is_relevant)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_jobs_entity ON processing_jobs(job_type, entity_id)`,
}

// migrateLegacyFeedsIfNeeded detects the legacy single-table layout (a
// `user_id` column directly on `feeds`, from a pre-multi-user build) and
// folds it into normalized feeds + subscriptions. A no-op on a fresh or
// already-normalized database.
func (s *Store) migrateLegacyFeedsIfNeeded(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(feeds)`)
	if err != nil {
		return fmt.Errorf("%w: inspect feeds schema: %v", domain.ErrSchemaMigration, err)
	}
	defer rows.Close()

	hasUserID := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("%w: scan feeds schema: %v", domain.ErrSchemaMigration, err)
		}
		if name == "user_id" {
			hasUserID = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaMigration, err)
	}
	if !hasUserID {
		return nil
	}

	slog.Warn("legacy feeds.user_id column detected, migrating to subscriptions")
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin migration: %v", domain.ErrSchemaMigration, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO subscriptions (user_id, feed_id, created_at)
		SELECT user_id, id, CURRENT_TIMESTAMP FROM feeds WHERE user_id IS NOT NULL
	`); err != nil {
		return fmt.Errorf("%w: backfill subscriptions: %v", domain.ErrSchemaMigration, err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE feeds DROP COLUMN user_id`); err != nil {
		// Older SQLite builds may not support DROP COLUMN; leaving the column
		// in place is harmless since subscriptions is now authoritative.
		slog.Warn("could not drop legacy feeds.user_id column, leaving in place", slog.Any("error", err))
	}
	return tx.Commit()
}

// withTiming records a DB query duration metric around a store operation.
func withTiming(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordDBQuery(op, time.Since(start))
	return err
}

// ClampPollIntervalMinutes clamps a poll interval to the [15, 1440] minute
// bound shared by every adaptive scheduling transition.
func ClampPollIntervalMinutes(minutes int) int {
	if minutes < 15 {
		return 15
	}
	if minutes > 1440 {
		return 1440
	}
	return minutes
}

func clampMinutes(minutes int) int {
	return ClampPollIntervalMinutes(minutes)
}
