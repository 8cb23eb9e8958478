package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/isoi-kec/instrrol/internal/chat"
	"github.com/isoi-kec/instrrol/internal/domain"
	"github.com/isoi-kec/instrrol/internal/identity"
	"github.com/isoi-kec/instrrol/internal/ladder"
)

const recordTimeout = 5 * time.Second

// Event types delivered to subscribers.
const (
	EventChat   = "chat"
	EventGame   = "game"
	EventClosed = "closed"
)

// Event is a state change of one of the visit's engines.
type Event struct {
	Type string           `json:"type"`
	Chat *chat.Snapshot   `json:"chat,omitempty"`
	Game *ladder.Snapshot `json:"game,omitempty"`
}

// ResultRecorder stores completed playthroughs.
type ResultRecorder interface {
	RecordResult(ctx context.Context, result *domain.GameResult) error
}

// Visit is one browser tab's engines plus its change listeners.
type Visit struct {
	VisitorID string
	SessionID string
	Chat      *chat.Conversation
	Game      *ladder.Session

	now func() time.Time

	mu         sync.Mutex
	lastActive time.Time
	subs       map[int]func(Event)
	nextSub    int
	closed     bool
}

func newVisit(visitorID, sessionID string, cfg Config) (*Visit, error) {
	v := &Visit{
		VisitorID:  visitorID,
		SessionID:  sessionID,
		now:        cfg.Now,
		lastActive: cfg.Now(),
		subs:       make(map[int]func(Event)),
	}

	game, err := ladder.NewSession(cfg.Levels, ladder.Options{
		Scheduler: cfg.Scheduler,
		Now:       cfg.Now,
		OnChange: func(s ladder.Snapshot) {
			v.publish(Event{Type: EventGame, Game: &s})
		},
		OnComplete: func(c ladder.Completion) {
			v.recordCompletion(cfg.Recorder, c)
		},
	})
	if err != nil {
		return nil, err
	}

	transcripts := cfg.Transcripts
	v.Game = game
	v.Chat = chat.NewConversation(cfg.Responder, chat.Options{
		Greeting:  cfg.Greeting,
		Scheduler: cfg.Scheduler,
		Now:       cfg.Now,
		OnChange: func(s chat.Snapshot) {
			v.publish(Event{Type: EventChat, Chat: &s})
		},
		OnMessage: func(m chat.Message) {
			transcripts.Log(v.transcriptEvent(m))
		},
	})
	return v, nil
}

// Touch marks the visit active now.
func (v *Visit) Touch() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastActive = v.now()
}

// LastActive returns the time of the last Touch.
func (v *Visit) LastActive() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastActive
}

// Subscribers returns the number of registered listeners.
func (v *Visit) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Subscribe registers fn for every engine change. fn runs on the goroutine
// that caused the change, never under an engine lock. It must not block or
// call back into the engines, since later changes wait for it to return.
// A closed visit delivers EventClosed immediately.
func (v *Visit) Subscribe(fn func(Event)) (unsubscribe func()) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		fn(Event{Type: EventClosed})
		return func() {}
	}
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

// Closed reports whether the visit has been torn down.
func (v *Visit) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *Visit) publish(ev Event) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	subs := make([]func(Event), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (v *Visit) close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	subs := v.subs
	v.subs = make(map[int]func(Event))
	v.mu.Unlock()

	v.Chat.Close()
	v.Game.Close()
	for _, fn := range subs {
		fn(Event{Type: EventClosed})
	}
}

func (v *Visit) recordCompletion(rec ResultRecorder, c ladder.Completion) {
	result := &domain.GameResult{
		VisitorID:     v.VisitorID,
		DisplayName:   identity.DisplayName(v.VisitorID),
		Score:         c.Score,
		LevelsCleared: c.LevelsCleared,
		Attempts:      c.Attempts,
		StartedAt:     c.StartedAt,
		CompletedAt:   c.CompletedAt,
	}
	slog.Info("Game completed",
		"visitor_id", v.VisitorID,
		"session_id", v.SessionID,
		"score", result.Score,
		"attempts", result.Attempts,
		"duration", result.Duration())
	if rec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := rec.RecordResult(ctx, result); err != nil {
		slog.Error("Failed to record game result", "visitor_id", v.VisitorID, "error", err)
	}
}

func (v *Visit) transcriptEvent(m chat.Message) chat.LogEvent {
	direction := "user_to_bot"
	if m.IsBot {
		direction = "bot_to_user"
	}
	return chat.LogEvent{
		Timestamp:  m.SentAt.UTC().Format(time.RFC3339Nano),
		VisitorID:  v.VisitorID,
		SessionID:  v.SessionID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  "message",
		ContentRaw: m.Text,
		Meta:       map[string]any{"message_id": m.ID},
	}
}
