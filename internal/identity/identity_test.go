package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/isoi-kec/instrrol/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type seen struct {
	visitorID, displayName, sessionID string
}

func captureHandler(out *seen) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out.visitorID = VisitorIDFromContext(r.Context())
		out.displayName = DisplayNameFromContext(r.Context())
		out.sessionID = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareIssuesVisitorCookie(t *testing.T) {
	repo := newRepo(t)
	var got seen
	h := Middleware(repo, true)(captureHandler(&got))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if !IsValidVisitorID(got.visitorID) {
		t.Fatalf("expected generated visitor id, got %q", got.visitorID)
	}
	if got.sessionID != DefaultSessionIDValue {
		t.Fatalf("expected default session, got %q", got.sessionID)
	}
	if !strings.HasPrefix(got.displayName, "guest-") {
		t.Fatalf("unexpected display name %q", got.displayName)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != VisitorCookieName || cookies[0].Value != got.visitorID {
		t.Fatalf("expected visitor cookie, got %+v", cookies)
	}
	if cookies[0].Secure {
		t.Fatal("dev cookie must not be Secure")
	}

	v, err := repo.GetVisitor(context.Background(), got.visitorID)
	if err != nil || v == nil {
		t.Fatalf("visitor not persisted: %+v, %v", v, err)
	}
}

func TestMiddlewareReusesCookieAndSession(t *testing.T) {
	repo := newRepo(t)
	var got seen
	h := Middleware(repo, false)(captureHandler(&got))

	id := "vis_" + strings.Repeat("ab", 16)
	req := httptest.NewRequest(http.MethodGet, "/api/game", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: id})
	req.Header.Set(SessionHeaderName, "tab-42")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got.visitorID != id || got.sessionID != "tab-42" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if c := w.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Fatalf("expected re-issued secure cookie, got %+v", c)
	}

	// Second request touches instead of inserting.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("second request failed with %d", w.Code)
	}
}

func TestMiddlewareRejectsForgedCookie(t *testing.T) {
	repo := newRepo(t)
	var got seen
	h := Middleware(repo, true)(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "vis_../../etc"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.visitorID == "vis_../../etc" || !IsValidVisitorID(got.visitorID) {
		t.Fatalf("forged cookie accepted: %q", got.visitorID)
	}
}

func TestSessionIDFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/live?session_id=tab_7", nil)
	if got := sessionIDFromRequest(req); got != "tab_7" {
		t.Fatalf("expected tab_7, got %q", got)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	tests := map[string]string{
		"":                       DefaultSessionIDValue,
		"   ":                    DefaultSessionIDValue,
		"tab 1":                  DefaultSessionIDValue,
		"../x":                   DefaultSessionIDValue,
		strings.Repeat("a", 129): DefaultSessionIDValue,
		" tab:1.a-b_c ":          "tab:1.a-b_c",
	}
	for in, want := range tests {
		if got := sanitizeSessionID(in); got != want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	id := "vis_0123456789abcdef0123456789abcdef"
	if got := DisplayName(id); got != "guest-abcdef" {
		t.Fatalf("DisplayName = %q", got)
	}
	if got := DisplayName("short"); got != "guest" {
		t.Fatalf("DisplayName(short) = %q", got)
	}
}
