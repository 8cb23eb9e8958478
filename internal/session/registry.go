// Package session owns the per-tab engines: one chat conversation and one
// ladder game per visitor and tab session.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/isoi-kec/instrrol/internal/chat"
	"github.com/isoi-kec/instrrol/internal/ladder"
	"github.com/isoi-kec/instrrol/internal/schedule"
)

// Config holds what every visit is built from.
type Config struct {
	Responder chat.Responder
	Greeting  string
	Levels    []ladder.Level
	Scheduler schedule.Scheduler
	// Recorder receives completed playthroughs. Optional.
	Recorder ResultRecorder
	// Transcripts receives every chat message. Optional.
	Transcripts chat.TranscriptLogger
	Now         func() time.Time
}

// Registry maps visitor and tab session ids to live visits.
type Registry struct {
	cfg Config

	mu     sync.RWMutex
	visits map[string]map[string]*Visit
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Responder == nil {
		return nil, errors.New("session: responder is required")
	}
	if len(cfg.Levels) == 0 {
		return nil, errors.New("session: at least one level is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real{}
	}
	if cfg.Transcripts == nil {
		cfg.Transcripts = chat.NoopTranscriptLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		cfg:    cfg,
		visits: make(map[string]map[string]*Visit),
	}, nil
}

// Get returns the visit for visitorID/sessionID, creating it on first use,
// and marks it active.
func (r *Registry) Get(visitorID, sessionID string) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.visits[visitorID][sessionID]; ok {
		v.Touch()
		return v, nil
	}

	v, err := newVisit(visitorID, sessionID, r.cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := r.visits[visitorID]; !ok {
		r.visits[visitorID] = make(map[string]*Visit)
	}
	r.visits[visitorID][sessionID] = v
	slog.Info("Visit opened", "visitor_id", visitorID, "session_id", sessionID)
	return v, nil
}

// Lookup returns an existing visit or nil.
func (r *Registry) Lookup(visitorID, sessionID string) *Visit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visits[visitorID][sessionID]
}

// Len returns the number of open visits.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.visits {
		n += len(sessions)
	}
	return n
}

// CloseVisitor tears down every visit of a visitor.
func (r *Registry) CloseVisitor(visitorID string) int {
	r.mu.Lock()
	sessions := r.visits[visitorID]
	delete(r.visits, visitorID)
	r.mu.Unlock()

	for sid, v := range sessions {
		v.close()
		slog.Info("Visit closed", "visitor_id", visitorID, "session_id", sid)
	}
	return len(sessions)
}

// CloseIdle tears down visits idle longer than ttl. Visits with a live
// subscriber are kept.
func (r *Registry) CloseIdle(ttl time.Duration) int {
	cutoff := r.cfg.Now().Add(-ttl)

	var expired []*Visit
	r.mu.Lock()
	for visitorID, sessions := range r.visits {
		for sid, v := range sessions {
			if v.LastActive().After(cutoff) || v.Subscribers() > 0 {
				continue
			}
			expired = append(expired, v)
			delete(sessions, sid)
		}
		if len(sessions) == 0 {
			delete(r.visits, visitorID)
		}
	}
	r.mu.Unlock()

	for _, v := range expired {
		v.close()
		slog.Info("Idle visit closed", "visitor_id", v.VisitorID, "session_id", v.SessionID)
	}
	return len(expired)
}

// Close tears down every visit.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.visits
	r.visits = make(map[string]map[string]*Visit)
	r.mu.Unlock()

	for _, sessions := range all {
		for _, v := range sessions {
			v.close()
		}
	}
}
