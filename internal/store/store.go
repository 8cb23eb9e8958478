// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/isoi-kec/instrrol/internal/domain"
)

// Repository persists visitor identities and finished game results.
// Chat transcripts and in-progress game sessions are never stored.
type Repository interface {
	// GetVisitor retrieves a visitor by id. Returns nil, nil when absent.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// TouchVisitor updates the last_seen_at timestamp for a visitor.
	TouchVisitor(ctx context.Context, visitorID string, lastSeen time.Time) error

	// DeleteStaleVisitors removes visitors not seen within retention. Their
	// results are kept with an empty visitor id.
	DeleteStaleVisitors(ctx context.Context, retention time.Duration) (int64, error)

	// RecordResult stores a finished playthrough. An empty ResultID is filled in.
	RecordResult(ctx context.Context, result *domain.GameResult) error

	// TopResults returns the best results: highest score, then fewest attempts,
	// then earliest completion.
	TopResults(ctx context.Context, limit int) ([]*domain.GameResult, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
