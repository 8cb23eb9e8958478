package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/isoi-kec/instrrol/internal/domain"
)

const maxTopResults = 100

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode lets the sweeper delete while handlers read.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every new connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);

	CREATE TABLE IF NOT EXISTS game_results (
		result_id TEXT PRIMARY KEY,
		visitor_id TEXT REFERENCES visitors(visitor_id) ON DELETE SET NULL,
		display_name TEXT NOT NULL,
		score INTEGER NOT NULL,
		levels_cleared INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_game_results_rank ON game_results(score DESC, attempts ASC, completed_at ASC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVisitor retrieves a visitor by id.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `
		SELECT visitor_id, display_name, last_seen_at, created_at, updated_at
		FROM visitors WHERE visitor_id = ?`

	var v domain.Visitor
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(
		&v.VisitorID, &v.DisplayName, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// UpsertVisitor creates or updates a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		v.VisitorID, v.DisplayName,
		v.LastSeenAt.Unix(), v.CreatedAt.Unix(), v.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// TouchVisitor updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) TouchVisitor(ctx context.Context, visitorID string, lastSeen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE visitor_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("touch visitor: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchVisitor affected 0 rows", "visitor_id", visitorID)
	}
	return nil
}

// DeleteStaleVisitors removes visitors idle longer than retention. Their
// results stay on the leaderboard, detached from the visitor.
func (s *SQLiteStore) DeleteStaleVisitors(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM visitors WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete stale visitors: %w", err)
	}
	return result.RowsAffected()
}

// RecordResult stores a finished playthrough.
func (s *SQLiteStore) RecordResult(ctx context.Context, r *domain.GameResult) error {
	if r.ResultID == "" {
		r.ResultID = uuid.NewString()
	}
	query := `
	INSERT INTO game_results (
		result_id, visitor_id, display_name, score, levels_cleared,
		attempts, started_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ResultID, r.VisitorID, r.DisplayName, r.Score, r.LevelsCleared,
		r.Attempts, r.StartedAt.Unix(), r.CompletedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record game result: %w", err)
	}
	return nil
}

// TopResults returns the leaderboard.
func (s *SQLiteStore) TopResults(ctx context.Context, limit int) ([]*domain.GameResult, error) {
	if limit <= 0 || limit > maxTopResults {
		limit = maxTopResults
	}
	query := `
		SELECT result_id, visitor_id, display_name, score, levels_cleared,
		       attempts, started_at, completed_at
		FROM game_results
		ORDER BY score DESC, attempts ASC, completed_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query top results: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close top results rows", "error", closeErr)
		}
	}()

	var results []*domain.GameResult
	for rows.Next() {
		var r domain.GameResult
		var visitorID sql.NullString
		var startedAt, completedAt int64
		if err := rows.Scan(
			&r.ResultID, &visitorID, &r.DisplayName, &r.Score, &r.LevelsCleared,
			&r.Attempts, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan game result row: %w", err)
		}
		r.VisitorID = visitorID.String
		r.StartedAt = time.Unix(startedAt, 0)
		r.CompletedAt = time.Unix(completedAt, 0)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate game results: %w", err)
	}
	return results, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
