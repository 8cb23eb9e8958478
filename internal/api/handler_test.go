//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/isoi-kec/instrrol/internal/chat"
	"github.com/isoi-kec/instrrol/internal/domain"
	"github.com/isoi-kec/instrrol/internal/faq"
	"github.com/isoi-kec/instrrol/internal/identity"
	"github.com/isoi-kec/instrrol/internal/ladder"
	"github.com/isoi-kec/instrrol/internal/schedule"
	"github.com/isoi-kec/instrrol/internal/session"
	"github.com/isoi-kec/instrrol/internal/store"
)

const testVisitor = "vis_0123456789abcdef0123456789abcdef"

type testServer struct {
	router http.Handler
	repo   store.Repository
	visits *session.Registry
	clock  *schedule.Manual
	cookie *http.Cookie
}

func newTestServer(t *testing.T, levels []ladder.Level) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	table, err := faq.DefaultTable()
	if err != nil {
		t.Fatalf("DefaultTable failed: %v", err)
	}
	matcher := faq.NewMatcher(table)

	if levels == nil {
		if levels, err = ladder.DefaultLevels(); err != nil {
			t.Fatalf("DefaultLevels failed: %v", err)
		}
	}

	clock := schedule.NewManual()
	visits, err := session.NewRegistry(session.Config{
		Responder: matcher,
		Greeting:  matcher.Greeting(),
		Levels:    levels,
		Scheduler: clock,
		Recorder:  repo,
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(visits.Close)

	base := NewHandler(repo, visits)
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	r.Route("/api", func(r chi.Router) {
		NewSystemHandler(base, 30*time.Minute).RegisterRoutes(r)
		NewChatHandler(base, matcher, 100, 3).RegisterRoutes(r)
		NewGameHandler(base, levels).RegisterRoutes(r)
	})

	return &testServer{
		router: r,
		repo:   repo,
		visits: visits,
		clock:  clock,
		cookie: &http.Cookie{Name: identity.VisitorCookieName, Value: testVisitor},
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.AddCookie(s.cookie)
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "short and stout")

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	got := decode[map[string]string](t, w)
	if got["error"] != "short and stout" {
		t.Errorf("Expected error message, got %v", got)
	}
}

func TestHealthAndMe(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
	if got := decode[map[string]interface{}](t, w); got["status"] != "ok" {
		t.Fatalf("unexpected health body %v", got)
	}

	w = s.do(t, http.MethodGet, "/api/me", "")
	if w.Code != http.StatusOK {
		t.Fatalf("me returned %d", w.Code)
	}
	me := decode[map[string]interface{}](t, w)
	if me["visitor_id"] != testVisitor || me["session_id"] != "tab-1" || me["display_name"] != "guest-abcdef" {
		t.Fatalf("unexpected me body %v", me)
	}
	if me["session_ttl_seconds"].(float64) != 1800 {
		t.Fatalf("unexpected ttl %v", me["session_ttl_seconds"])
	}
}

func TestEndSessions(t *testing.T) {
	s := newTestServer(t, nil)

	if w := s.do(t, http.MethodGet, "/api/game", ""); w.Code != http.StatusOK {
		t.Fatalf("get game returned %d", w.Code)
	}
	if s.visits.Lookup(testVisitor, "tab-1") == nil {
		t.Fatal("expected an open visit")
	}

	w := s.do(t, http.MethodDelete, "/api/me/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("end sessions returned %d", w.Code)
	}
	if got := decode[map[string]int](t, w); got["closed"] != 1 {
		t.Fatalf("expected 1 closed visit, got %v", got)
	}
	if s.visits.Lookup(testVisitor, "tab-1") != nil {
		t.Fatal("visit should be gone")
	}
}

func TestChatFlow(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/chat", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get chat returned %d", w.Code)
	}
	if snap := decode[chat.Snapshot](t, w); len(snap.Messages) != 1 || !snap.Messages[0].IsBot {
		t.Fatalf("expected greeting, got %+v", snap)
	}

	w = s.do(t, http.MethodPost, "/api/chat/messages", `{"message":"Where is the venue?"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("post message returned %d: %s", w.Code, w.Body.String())
	}
	posted := decode[struct {
		Applied bool          `json:"applied"`
		Chat    chat.Snapshot `json:"chat"`
	}](t, w)
	if !posted.Applied || !posted.Chat.Typing || len(posted.Chat.Messages) != 2 {
		t.Fatalf("unexpected post response %+v", posted)
	}

	s.clock.Advance(chat.ReplyDelay)
	snap := decode[chat.Snapshot](t, s.do(t, http.MethodGet, "/api/chat", ""))
	if snap.Typing || len(snap.Messages) != 3 {
		t.Fatalf("expected reply, got %+v", snap)
	}
	if !strings.Contains(snap.Messages[2].Text, "Seminar Hall") {
		t.Fatalf("expected venue answer, got %q", snap.Messages[2].Text)
	}
}

func TestChatBlankMessageIsIgnored(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/chat/messages", `{"message":"   "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignored message, got %d", w.Code)
	}
	if got := decode[map[string]interface{}](t, w); got["applied"] != false {
		t.Fatalf("expected applied=false, got %v", got)
	}
	if s.clock.Pending() != 0 {
		t.Fatal("blank message scheduled a reply")
	}
}

func TestChatBadBody(t *testing.T) {
	s := newTestServer(t, nil)
	for _, body := range []string{`{`, `{"msg":"hi"}`, `{"message":"a"}{"message":"b"}`} {
		if w := s.do(t, http.MethodPost, "/api/chat/messages", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestLimiterSetRejectsOverBurst(t *testing.T) {
	ls := newLimiterSet(1, 2)
	fixed := time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	ls.now = func() time.Time { return fixed }

	if !ls.allow("a") || !ls.allow("a") {
		t.Fatal("burst requests rejected")
	}
	if ls.allow("a") {
		t.Fatal("third request within the same instant should be rejected")
	}
	if !ls.allow("b") {
		t.Fatal("limits must be per visitor")
	}

	fixed = fixed.Add(time.Second)
	if !ls.allow("a") {
		t.Fatal("token should refill after a second")
	}
}

func TestAsk(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/chat/ask", `{"message":"how do I register?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ask returned %d", w.Code)
	}
	got := decode[map[string]string](t, w)
	if got["response"] == "" {
		t.Fatal("empty response")
	}

	snap := decode[chat.Snapshot](t, s.do(t, http.MethodGet, "/api/chat", ""))
	if len(snap.Messages) != 1 {
		t.Fatal("ask must not touch the transcript")
	}

	if w := s.do(t, http.MethodPost, "/api/chat/ask", `{"message":" "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("blank ask: expected 400, got %d", w.Code)
	}
}

func TestCatalogAndLevels(t *testing.T) {
	s := newTestServer(t, nil)

	blocks := decode[[]ladder.Block](t, s.do(t, http.MethodGet, "/api/game/blocks", ""))
	if len(blocks) != 4 {
		t.Fatalf("expected 4 catalog blocks, got %d", len(blocks))
	}

	w := s.do(t, http.MethodGet, "/api/game/levels", "")
	if strings.Contains(w.Body.String(), "test_cases") {
		t.Fatal("level list leaks test cases")
	}
	levels := decode[[]ladder.LevelView](t, w)
	if len(levels) != 8 || levels[0].Number != 1 || levels[7].Number != 8 {
		t.Fatalf("unexpected level list %+v", levels)
	}
}

func TestGamePlaythroughRecordsResult(t *testing.T) {
	all, err := ladder.DefaultLevels()
	if err != nil {
		t.Fatalf("DefaultLevels failed: %v", err)
	}
	s := newTestServer(t, all[:1])

	type mutation struct {
		Applied bool            `json:"applied"`
		Game    ladder.Snapshot `json:"game"`
	}

	m := decode[mutation](t, s.do(t, http.MethodPost, "/api/game/blocks", `{"kind":"NO","position":0}`))
	if !m.Applied || len(m.Game.Placed) != 1 {
		t.Fatalf("place NO failed: %+v", m)
	}
	m = decode[mutation](t, s.do(t, http.MethodPost, "/api/game/blocks", `{"kind":"NO","position":0}`))
	if m.Applied {
		t.Fatal("occupied slot accepted")
	}
	m = decode[mutation](t, s.do(t, http.MethodPost, "/api/game/blocks", `{"kind":"COIL","position":1}`))
	if !m.Applied {
		t.Fatal("place COIL failed")
	}

	m = decode[mutation](t, s.do(t, http.MethodPost, "/api/game/inputs/0/toggle", ""))
	if !m.Applied || !m.Game.Preview {
		t.Fatalf("toggle should light the preview: %+v", m.Game)
	}

	m = decode[mutation](t, s.do(t, http.MethodPost, "/api/game/run", ""))
	if !m.Applied || m.Game.Status != ladder.StatusVerifying {
		t.Fatalf("run should start verifying: %+v", m.Game)
	}
	s.clock.Advance(ladder.VerifyDelay)

	snap := decode[ladder.Snapshot](t, s.do(t, http.MethodGet, "/api/game", ""))
	if snap.Status != ladder.StatusSuccess || !snap.Complete || snap.Score != ladder.PointsPerLevel {
		t.Fatalf("expected completed game, got %+v", snap)
	}

	board := decode[[]domain.GameResult](t, s.do(t, http.MethodGet, "/api/game/leaderboard?limit=5", ""))
	if len(board) != 1 || board[0].Score != ladder.PointsPerLevel || board[0].DisplayName != "guest-abcdef" {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	m = decode[mutation](t, s.do(t, http.MethodPost, "/api/game/restart", ""))
	if !m.Applied || m.Game.Complete || m.Game.Score != 0 {
		t.Fatalf("restart should clear progress: %+v", m.Game)
	}
}

func TestGameRemoveAndHint(t *testing.T) {
	s := newTestServer(t, nil)

	type mutation struct {
		Applied bool            `json:"applied"`
		Game    ladder.Snapshot `json:"game"`
	}
	m := decode[mutation](t, s.do(t, http.MethodPost, "/api/game/blocks", `{"kind":"NO","position":0}`))
	id := m.Game.Placed[0].ID

	m = decode[mutation](t, s.do(t, http.MethodDelete, "/api/game/blocks/"+id, ""))
	if !m.Applied || len(m.Game.Placed) != 0 {
		t.Fatalf("remove failed: %+v", m)
	}
	m = decode[mutation](t, s.do(t, http.MethodDelete, "/api/game/blocks/"+id, ""))
	if m.Applied {
		t.Fatal("removing a missing block should not apply")
	}

	m = decode[mutation](t, s.do(t, http.MethodPost, "/api/game/hint", ""))
	if !m.Applied || !m.Game.ShowHint {
		t.Fatalf("hint toggle failed: %+v", m.Game)
	}
	m = decode[mutation](t, s.do(t, http.MethodPost, "/api/game/reset", ""))
	if !m.Applied || m.Game.ShowHint {
		t.Fatalf("reset should hide hints: %+v", m.Game)
	}
}

func TestGameBadRequests(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name, method, path, body string
	}{
		{"unknown kind", http.MethodPost, "/api/game/blocks", `{"kind":"RELAY","position":0}`},
		{"missing position", http.MethodPost, "/api/game/blocks", `{"kind":"NO"}`},
		{"malformed json", http.MethodPost, "/api/game/blocks", `{"kind":`},
		{"non-integer index", http.MethodPost, "/api/game/inputs/first/toggle", ""},
		{"bad limit", http.MethodGet, "/api/game/leaderboard?limit=abc", ""},
		{"limit too large", http.MethodGet, "/api/game/leaderboard?limit=1000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, tt.method, tt.path, tt.body); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGameRejectedMutationStill200(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/game/inputs/99/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[map[string]interface{}](t, w); got["applied"] != false {
		t.Fatalf("expected applied=false, got %v", got)
	}
}

func TestEmptyLeaderboardIsArray(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/game/leaderboard", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", w.Body.String())
	}
}

type stubResponder struct{}

func (stubResponder) Respond(string) string { return "ok" }

func TestChatRateLimited(t *testing.T) {
	s := newTestServer(t, nil)
	h := NewChatHandler(NewHandler(s.repo, s.visits), stubResponder{}, 1, 1)
	fixed := time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	h.limits.now = func() time.Time { return fixed }

	ask := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/ask", strings.NewReader(`{"message":"hi"}`))
		req = req.WithContext(identity.WithVisitor(req.Context(), testVisitor, "tab-1"))
		w := httptest.NewRecorder()
		h.Ask(w, req)
		return w.Code
	}

	if code := ask(); code != http.StatusOK {
		t.Fatalf("first ask: expected 200, got %d", code)
	}
	if code := ask(); code != http.StatusTooManyRequests {
		t.Fatalf("second ask: expected 429, got %d", code)
	}
}
