package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/isoi-kec/instrrol/internal/identity"
)

const healthTimeout = 2 * time.Second

// SystemHandler serves health and identity endpoints.
type SystemHandler struct {
	*Handler
	sessionTTL time.Duration
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(base *Handler, sessionTTL time.Duration) *SystemHandler {
	return &SystemHandler{Handler: base, sessionTTL: sessionTTL}
}

// RegisterRoutes registers system routes on the /api router.
func (h *SystemHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/me", h.GetMe)
	r.Delete("/me/sessions", h.EndSessions)
}

// Health reports database reachability and the number of open visits.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  "database unreachable",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"visits": h.visits.Len(),
	})
}

// GetMe returns the current visitor's identity.
func (h *SystemHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	visitor, err := h.repo.GetVisitor(r.Context(), visitorID)
	if err != nil || visitor == nil {
		Error(w, http.StatusUnauthorized, "visitor not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"visitor_id":          visitor.VisitorID,
		"display_name":        visitor.DisplayName,
		"session_id":          identity.SessionIDFromContext(r.Context()),
		"session_ttl_seconds": int64(h.sessionTTL.Seconds()),
	})
}

// EndSessions closes every open visit of the caller, across all tabs.
// Live connections of those visits are ended by the close notification.
func (h *SystemHandler) EndSessions(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	closed := h.visits.CloseVisitor(visitorID)
	slog.Info("Visitor ended sessions", "visitor_id", visitorID, "closed", closed)
	JSON(w, http.StatusOK, map[string]int{"closed": closed})
}
