package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/isoi-kec/instrrol/internal/domain"
	"github.com/isoi-kec/instrrol/internal/ladder"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// GameHandler serves the ladder puzzle endpoints.
type GameHandler struct {
	*Handler
	levels []ladder.Level
}

// NewGameHandler creates a game handler over the given level list.
func NewGameHandler(base *Handler, levels []ladder.Level) *GameHandler {
	return &GameHandler{Handler: base, levels: levels}
}

type placeRequest struct {
	Kind     string `json:"kind"`
	Position *int   `json:"position"`
}

type gameResponse struct {
	Applied bool            `json:"applied"`
	Game    ladder.Snapshot `json:"game"`
}

// RegisterRoutes registers game routes on the /api router.
func (h *GameHandler) RegisterRoutes(r chi.Router) {
	r.Route("/game", func(r chi.Router) {
		r.Get("/", h.GetGame)
		r.Get("/blocks", h.ListBlocks)
		r.Get("/levels", h.ListLevels)
		r.Get("/leaderboard", h.Leaderboard)

		r.Post("/blocks", h.PlaceBlock)
		r.Delete("/blocks/{id}", h.RemoveBlock)
		r.Post("/inputs/{index}/toggle", h.ToggleInput)
		r.Post("/run", h.Run)
		r.Post("/reset", h.Reset)
		r.Post("/restart", h.Restart)
		r.Post("/hint", h.ToggleHint)
	})
}

// GetGame returns the caller's game snapshot.
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	v := h.visit(w, r)
	if v == nil {
		return
	}
	JSON(w, http.StatusOK, v.Game.Snapshot())
}

// ListBlocks returns the block catalog.
func (h *GameHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, ladder.Catalog())
}

// ListLevels returns every level without its test cases.
func (h *GameHandler) ListLevels(w http.ResponseWriter, r *http.Request) {
	views := make([]ladder.LevelView, len(h.levels))
	for i, l := range h.levels {
		views[i] = l.View(i)
	}
	JSON(w, http.StatusOK, views)
}

// Leaderboard returns the best completed playthroughs.
func (h *GameHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLeaderboardSize {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	results, err := h.repo.TopResults(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to load leaderboard", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if results == nil {
		results = []*domain.GameResult{}
	}
	JSON(w, http.StatusOK, results)
}

// PlaceBlock puts a block into a rung slot.
func (h *GameHandler) PlaceBlock(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := ladder.ParseKind(req.Kind)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Position == nil {
		Error(w, http.StatusBadRequest, "position is required")
		return
	}

	v := h.visit(w, r)
	if v == nil {
		return
	}
	applied := v.Game.Place(kind, *req.Position)
	h.respond(w, applied, v.Game.Snapshot())
}

// RemoveBlock deletes a placed block by id.
func (h *GameHandler) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	v := h.visit(w, r)
	if v == nil {
		return
	}
	applied := v.Game.Remove(chi.URLParam(r, "id"))
	h.respond(w, applied, v.Game.Snapshot())
}

// ToggleInput flips one live-preview input.
func (h *GameHandler) ToggleInput(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	v := h.visit(w, r)
	if v == nil {
		return
	}
	applied := v.Game.ToggleInput(index)
	h.respond(w, applied, v.Game.Snapshot())
}

// Run starts verification of the current rung.
func (h *GameHandler) Run(w http.ResponseWriter, r *http.Request) {
	v := h.visit(w, r)
	if v == nil {
		return
	}
	applied := v.Game.Run()
	h.respond(w, applied, v.Game.Snapshot())
}

// Reset clears the current level.
func (h *GameHandler) Reset(w http.ResponseWriter, r *http.Request) {
	v := h.visit(w, r)
	if v == nil {
		return
	}
	v.Game.Reset()
	h.respond(w, true, v.Game.Snapshot())
}

// Restart starts over from the first level.
func (h *GameHandler) Restart(w http.ResponseWriter, r *http.Request) {
	v := h.visit(w, r)
	if v == nil {
		return
	}
	v.Game.Restart()
	h.respond(w, true, v.Game.Snapshot())
}

// ToggleHint shows or hides the hints.
func (h *GameHandler) ToggleHint(w http.ResponseWriter, r *http.Request) {
	v := h.visit(w, r)
	if v == nil {
		return
	}
	applied := v.Game.ToggleHint()
	h.respond(w, applied, v.Game.Snapshot())
}

func (h *GameHandler) respond(w http.ResponseWriter, applied bool, snap ladder.Snapshot) {
	JSON(w, http.StatusOK, gameResponse{Applied: applied, Game: snap})
}
