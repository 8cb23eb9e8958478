// Package api provides HTTP handlers for the INSTRROL API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/isoi-kec/instrrol/internal/identity"
	"github.com/isoi-kec/instrrol/internal/session"
	"github.com/isoi-kec/instrrol/internal/store"
)

const maxBodyBytes = 16 << 10

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	visits *session.Registry
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, visits *session.Registry) *Handler {
	return &Handler{
		repo:   repo,
		visits: visits,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// visit resolves the caller's visit from the identity middleware context.
// It writes the error response itself and returns nil on failure.
func (h *Handler) visit(w http.ResponseWriter, r *http.Request) *session.Visit {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	v, err := h.visits.Get(visitorID, sessionID)
	if err != nil {
		slog.Error("Failed to open visit", "visitor_id", visitorID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open session")
		return nil
	}
	return v
}
