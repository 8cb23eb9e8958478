// Package live serves the WebSocket channel that mirrors a visitor tab's
// chat and game state and accepts UI commands.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/isoi-kec/instrrol/internal/chat"
	"github.com/isoi-kec/instrrol/internal/identity"
	"github.com/isoi-kec/instrrol/internal/ladder"
	"github.com/isoi-kec/instrrol/internal/session"
	"github.com/isoi-kec/instrrol/internal/store"
)

const (
	outboxSize    = 64
	writeTimeout  = 5 * time.Second
	touchTimeout  = 5 * time.Second
	touchInterval = time.Minute
	readLimit     = 16 << 10
)

// Command types accepted from the client.
const (
	CmdChatSend    = "chat.send"
	CmdGamePlace   = "game.place"
	CmdGameRemove  = "game.remove"
	CmdGameToggle  = "game.toggle"
	CmdGameRun     = "game.run"
	CmdGameReset   = "game.reset"
	CmdGameRestart = "game.restart"
	CmdGameHint    = "game.hint"
	CmdPing        = "ping"
)

// Command is a client request.
type Command struct {
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Position *int   `json:"position,omitempty"`
	ID       string `json:"id,omitempty"`
	Index    *int   `json:"index,omitempty"`
}

// Event is a server message. Type is "chat", "game", "ack", "error" or "pong".
type Event struct {
	Type    string           `json:"type"`
	Chat    *chat.Snapshot   `json:"chat,omitempty"`
	Game    *ladder.Snapshot `json:"game,omitempty"`
	Command string           `json:"command,omitempty"`
	Applied *bool            `json:"applied,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Handler upgrades /ws/live requests.
type Handler struct {
	repo           store.Repository
	visits         *session.Registry
	conns          *ConnManager
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a live channel handler.
func NewHandler(repo store.Repository, visits *session.Registry, conns *ConnManager, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		repo:           repo,
		visits:         visits,
		conns:          conns,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if visitorID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("Live connection request", "visitor_id", visitorID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	visit, err := h.visits.Get(visitorID, sessionID)
	if err != nil {
		slog.Error("Failed to open visit", "visitor_id", visitorID, "error", err)
		http.Error(w, "failed to open session", http.StatusInternalServerError)
		return
	}

	// Origin was checked above.
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	ws.SetReadLimit(readLimit)

	h.conns.Register(visitorID, sessionID, ws)
	defer h.conns.Unregister(visitorID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		visit:  visit,
		ws:     ws,
		outbox: make(chan Event, outboxSize),
		cancel: cancel,
	}

	unsubscribe := visit.Subscribe(c.forward)
	defer unsubscribe()
	chatSnap := visit.Chat.Snapshot()
	gameSnap := visit.Game.Snapshot()
	c.forward(session.Event{Type: session.EventChat, Chat: &chatSnap})
	c.forward(session.Event{Type: session.EventGame, Game: &gameSnap})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		c.writeLoop(ctx)
	}()

	h.readLoop(ctx, c)
	cancel()
	<-done

	status, reason := websocket.StatusNormalClosure, "session ended"
	if c.expired() {
		status, reason = websocket.StatusGoingAway, "session expired"
	}
	if closeErr := ws.Close(status, reason); closeErr != nil {
		slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
	}
	slog.Info("Live connection ended", "visitor_id", visitorID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) readLoop(ctx context.Context, c *client) {
	visitorID := c.visit.VisitorID
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				slog.Debug("WebSocket closed by client", "visitor_id", visitorID)
			case errors.Is(err, context.Canceled):
			default:
				slog.Warn("WebSocket read error", "error", err, "visitor_id", visitorID)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.enqueue(Event{Type: "error", Error: "malformed command"})
			continue
		}

		c.visit.Touch()
		h.dispatch(c, cmd)
		if c.touchDue(time.Now()) {
			go h.touchVisitor(visitorID)
		}
	}
}

// dispatch applies cmd to the visit. State changes reach the client through
// the subscription; the ack only reports whether the command applied.
func (h *Handler) dispatch(c *client, cmd Command) {
	game := c.visit.Game
	var applied bool

	switch cmd.Type {
	case CmdPing:
		c.enqueue(Event{Type: "pong"})
		return
	case CmdChatSend:
		_, applied = c.visit.Chat.Send(cmd.Message)
	case CmdGamePlace:
		kind, err := ladder.ParseKind(cmd.Kind)
		if err != nil || cmd.Position == nil {
			c.enqueue(Event{Type: "error", Command: cmd.Type, Error: "kind and position are required"})
			return
		}
		applied = game.Place(kind, *cmd.Position)
	case CmdGameRemove:
		applied = game.Remove(cmd.ID)
	case CmdGameToggle:
		if cmd.Index == nil {
			c.enqueue(Event{Type: "error", Command: cmd.Type, Error: "index is required"})
			return
		}
		applied = game.ToggleInput(*cmd.Index)
	case CmdGameRun:
		applied = game.Run()
	case CmdGameReset:
		game.Reset()
		applied = true
	case CmdGameRestart:
		game.Restart()
		applied = true
	case CmdGameHint:
		applied = game.ToggleHint()
	default:
		c.enqueue(Event{Type: "error", Command: cmd.Type, Error: "unknown command"})
		return
	}

	c.enqueue(Event{Type: "ack", Command: cmd.Type, Applied: &applied})
}

func (h *Handler) touchVisitor(visitorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := h.repo.TouchVisitor(ctx, visitorID, time.Now()); err != nil {
		slog.Warn("Failed to update last seen", "error", err, "visitor_id", visitorID)
	}
}
