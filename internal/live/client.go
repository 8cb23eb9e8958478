package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/isoi-kec/instrrol/internal/session"
)

// client is one accepted connection. Engine callbacks and the read loop
// enqueue; only writeLoop touches the socket for writes.
type client struct {
	visit  *session.Visit
	ws     *websocket.Conn
	outbox chan Event
	cancel context.CancelFunc

	closedBySession atomic.Bool

	// mu orders enqueues against the last snapshot versions sent.
	mu          sync.Mutex
	chatVersion uint64
	gameVersion uint64

	// lastTouch is owned by the read loop.
	lastTouch time.Time
}

// forward is the visit subscription callback. Snapshots no newer than the
// last one queued for the same engine are dropped.
func (c *client) forward(ev session.Event) {
	switch ev.Type {
	case session.EventClosed:
		c.closedBySession.Store(true)
		c.cancel()
	case session.EventChat:
		c.mu.Lock()
		defer c.mu.Unlock()
		if ev.Chat.Version <= c.chatVersion {
			return
		}
		c.chatVersion = ev.Chat.Version
		c.enqueue(Event{Type: ev.Type, Chat: ev.Chat})
	case session.EventGame:
		c.mu.Lock()
		defer c.mu.Unlock()
		if ev.Game.Version <= c.gameVersion {
			return
		}
		c.gameVersion = ev.Game.Version
		c.enqueue(Event{Type: ev.Type, Game: ev.Game})
	}
}

// touchDue reports whether the visitor row should be refreshed at now, and
// records the touch if so.
func (c *client) touchDue(now time.Time) bool {
	if !c.lastTouch.IsZero() && now.Sub(c.lastTouch) < touchInterval {
		return false
	}
	c.lastTouch = now
	return true
}

// enqueue never blocks. A client that falls a full outbox behind is
// disconnected and resyncs on reconnect.
func (c *client) enqueue(ev Event) {
	select {
	case c.outbox <- ev:
	default:
		slog.Warn("Live client too slow, disconnecting", "visitor_id", c.visit.VisitorID, "session_id", c.visit.SessionID)
		c.cancel()
	}
}

func (c *client) expired() bool {
	return c.closedBySession.Load()
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.outbox:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.ws, ev)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write error", "error", err, "visitor_id", c.visit.VisitorID)
				return
			}
		}
	}
}
