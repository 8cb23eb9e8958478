// Package chat keeps the assistant transcript for one visitor tab.
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/isoi-kec/instrrol/internal/schedule"
)

// ReplyDelay is the simulated typing time before the bot answers.
const ReplyDelay = 800 * time.Millisecond

// Responder produces the bot's answer to a user message.
type Responder interface {
	Respond(userText string) string
}

// Message is one transcript entry. Messages are never edited once appended.
type Message struct {
	ID     int64     `json:"id"`
	Text   string    `json:"text"`
	IsBot  bool      `json:"is_bot"`
	SentAt time.Time `json:"sent_at"`
}

// Snapshot is a copy of the conversation state.
type Snapshot struct {
	Messages []Message `json:"messages"`
	Typing   bool      `json:"typing"`
	// Version increases with every change; a higher version is newer state.
	Version uint64 `json:"version"`
}

// Options configures a Conversation.
type Options struct {
	Greeting  string
	Scheduler schedule.Scheduler
	// OnChange receives a snapshot after every append or typing change. It
	// runs without the conversation lock. Calls are serialized in version
	// order, so it must not block.
	OnChange func(Snapshot)
	// OnMessage sees every appended message, e.g. for transcript logging.
	OnMessage func(Message)
	Now       func() time.Time
}

// Conversation is an append-only transcript with a delayed bot reply.
type Conversation struct {
	mu sync.Mutex
	// notifyMu is taken before mu is released so deliveries keep change order.
	notifyMu sync.Mutex

	responder Responder
	sched     schedule.Scheduler
	onChange  func(Snapshot)
	onMessage func(Message)
	now       func() time.Time

	messages []Message
	lastID   int64
	version  uint64
	pending  map[int64]schedule.Cancel
	closed   bool
}

// NewConversation starts a transcript seeded with the greeting, if any.
func NewConversation(responder Responder, opts Options) *Conversation {
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Real{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Conversation{
		responder: responder,
		sched:     opts.Scheduler,
		onChange:  opts.OnChange,
		onMessage: opts.OnMessage,
		now:       opts.Now,
		pending:   make(map[int64]schedule.Cancel),
		version:   1,
	}
	if opts.Greeting != "" {
		c.messages = append(c.messages, c.newMessage(opts.Greeting, true))
	}
	return c
}

// Send appends the user's message and schedules the bot reply. Blank text is
// ignored.
func (c *Conversation) Send(text string) (Message, bool) {
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, false
	}
	msg := c.newMessage(text, false)
	c.messages = append(c.messages, msg)
	c.pending[msg.ID] = c.sched.After(ReplyDelay, func() { c.reply(msg.ID, text) })
	c.unlockAndNotify(msg)
	return msg, true
}

func (c *Conversation) reply(key int64, text string) {
	answer := c.responder.Respond(text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, ok := c.pending[key]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	msg := c.newMessage(answer, true)
	c.messages = append(c.messages, msg)
	c.unlockAndNotify(msg)
}

// Snapshot returns the transcript and typing flag.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Close cancels pending replies. Replies that fire afterwards are dropped.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, cancel := range c.pending {
		cancel()
		delete(c.pending, id)
	}
}

// newMessage assigns a strictly increasing, millisecond-derived id.
func (c *Conversation) newMessage(text string, isBot bool) Message {
	now := c.now()
	id := now.UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return Message{ID: id, Text: text, IsBot: isBot, SentAt: now}
}

func (c *Conversation) snapshot() Snapshot {
	return Snapshot{
		Messages: append([]Message(nil), c.messages...),
		Typing:   len(c.pending) > 0,
		Version:  c.version,
	}
}

// unlockAndNotify bumps the version and publishes msg and the new state in
// change order.
func (c *Conversation) unlockAndNotify(msg Message) {
	c.version++
	snap := c.snapshot()
	onChange, onMessage := c.onChange, c.onMessage
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	if onMessage != nil {
		onMessage(msg)
	}
	if onChange != nil {
		onChange(snap)
	}
}
