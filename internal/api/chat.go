package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/isoi-kec/instrrol/internal/chat"
	"github.com/isoi-kec/instrrol/internal/identity"
)

// ChatHandler serves the assistant transcript endpoints.
type ChatHandler struct {
	*Handler
	responder chat.Responder
	limits    *limiterSet
}

// NewChatHandler creates a chat handler. Posting is limited to perSecond
// messages per visitor with the given burst.
func NewChatHandler(base *Handler, responder chat.Responder, perSecond float64, burst int) *ChatHandler {
	return &ChatHandler{
		Handler:   base,
		responder: responder,
		limits:    newLimiterSet(perSecond, burst),
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

// RegisterRoutes registers chat routes on the /api router.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/", h.GetChat)
		r.Post("/messages", h.PostMessage)
		r.Post("/ask", h.Ask)
	})
}

// GetChat returns the transcript of the caller's tab.
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	v := h.visit(w, r)
	if v == nil {
		return
	}
	JSON(w, http.StatusOK, v.Chat.Snapshot())
}

// PostMessage appends a user message. The bot reply lands after
// chat.ReplyDelay and is visible through GetChat or the live channel.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.limits.allow(identity.VisitorIDFromContext(r.Context())) {
		Error(w, http.StatusTooManyRequests, "slow down")
		return
	}

	v := h.visit(w, r)
	if v == nil {
		return
	}

	msg, ok := v.Chat.Send(req.Message)
	if !ok {
		JSON(w, http.StatusOK, map[string]interface{}{
			"applied": false,
			"chat":    v.Chat.Snapshot(),
		})
		return
	}

	JSON(w, http.StatusAccepted, map[string]interface{}{
		"applied": true,
		"message": msg,
		"chat":    v.Chat.Snapshot(),
	})
}

// Ask answers one question immediately without touching any transcript.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if !h.limits.allow(identity.VisitorIDFromContext(r.Context())) {
		Error(w, http.StatusTooManyRequests, "slow down")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"response": h.responder.Respond(req.Message),
	})
}
