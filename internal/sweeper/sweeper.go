// Package sweeper tears down idle visits and prunes long-gone visitors.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/isoi-kec/instrrol/internal/shared"
)

const (
	deleteRetries   = 3
	deleteBaseDelay = 100 * time.Millisecond
)

// IdleCloser closes in-memory visits idle longer than ttl.
type IdleCloser interface {
	CloseIdle(ttl time.Duration) int
}

// VisitorPruner deletes visitor rows not seen within retention.
type VisitorPruner interface {
	DeleteStaleVisitors(ctx context.Context, retention time.Duration) (int64, error)
}

// Config holds the sweeper timings.
type Config struct {
	Interval         time.Duration
	SessionTTL       time.Duration
	VisitorRetention time.Duration
}

// Sweeper periodically runs Sweep.
type Sweeper struct {
	cfg      Config
	visits   IdleCloser
	visitors VisitorPruner
}

// New creates a sweeper.
func New(cfg Config, visits IdleCloser, visitors VisitorPruner) *Sweeper {
	return &Sweeper{cfg: cfg, visits: visits, visitors: visitors}
}

// Run sweeps every interval until ctx is done. It always returns nil so it
// can run in an errgroup beside the HTTP server.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	slog.Info("Sweeper started",
		"interval", s.cfg.Interval,
		"session_ttl", s.cfg.SessionTTL,
		"visitor_retention", s.cfg.VisitorRetention)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one pass: idle visits first, then stale visitor rows.
func (s *Sweeper) Sweep(ctx context.Context) {
	if closed := s.visits.CloseIdle(s.cfg.SessionTTL); closed > 0 {
		slog.Info("Sweeper closed idle visits", "count", closed)
	}

	var deleted int64
	err := shared.RetryOnConflict(ctx, "delete stale visitors", deleteRetries, deleteBaseDelay, func() error {
		var err error
		deleted, err = s.visitors.DeleteStaleVisitors(ctx, s.cfg.VisitorRetention)
		return err
	})
	switch {
	case err != nil && ctx.Err() != nil:
		slog.Debug("Sweeper cancelled during visitor cleanup", "error", err)
	case err != nil:
		slog.Error("Sweeper failed to delete stale visitors", "error", err)
	case deleted > 0:
		slog.Info("Sweeper deleted stale visitors", "count", deleted)
	}
}
