package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

func newTestBrowserSessions(t *testing.T, key string) (*BrowserSessions, *client.SQLiteStore) {
	t.Helper()
	store, err := client.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cfg := DefaultConfig()
	return NewBrowserSessions(cfg, store, client.BackendConfig{APIBase: "http://backend.invalid/api"}, []byte(key), discardLogger()), store
}

func TestBrowserSessionsIssueSignedCookie(t *testing.T) {
	sessions, _ := newTestBrowserSessions(t, strings.Repeat("k", 32))

	rec := httptest.NewRecorder()
	first, err := sessions.Issue(rec)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cookie := findCookie(t, rec, browserCookieName)
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("session cookie must be http-only and Lax: %+v", cookie)
	}
	if cookie.MaxAge != int(DefaultSessionTTL.Seconds()) {
		t.Fatalf("MaxAge = %d", cookie.MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	second, ok := sessions.Lookup(req)
	if !ok || first != second {
		t.Fatalf("the same cookie must map to the same client")
	}
	if sessions.Resolve(httptest.NewRequest(http.MethodGet, "/", nil)) == first {
		t.Fatalf("a cookieless request must not resolve to an issued session")
	}
}

func TestBrowserSessionsRotateReplacesPresentedSession(t *testing.T) {
	sessions, _ := newTestBrowserSessions(t, strings.Repeat("k", 32))
	ctx := context.Background()

	planted := httptest.NewRecorder()
	old, err := sessions.Issue(planted)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := old.Session().Set(ctx, "stale", "R0", 3600); err != nil {
		t.Fatalf("Set: %v", err)
	}
	oldCookie := findCookie(t, planted, browserCookieName)

	req := httptest.NewRequest(http.MethodGet, "/login/success", nil)
	req.AddCookie(oldCookie)
	rec := httptest.NewRecorder()
	fresh, err := sessions.Rotate(ctx, rec, req)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	newCookie := findCookie(t, rec, browserCookieName)
	if newCookie.Value == oldCookie.Value {
		t.Fatalf("rotation must issue a new session id")
	}
	if err := fresh.Session().Set(ctx, "A1", "R1", 3600); err != nil {
		t.Fatalf("Set: %v", err)
	}

	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.AddCookie(oldCookie)
	c, _ := sessions.Lookup(again)
	if c.Session().IsAuthenticated(ctx) || c.Session().AccessToken(ctx) != "" {
		t.Fatalf("the replaced session must hold no tokens")
	}
}

func TestBrowserSessionsEvictIdleClients(t *testing.T) {
	sessions, _ := newTestBrowserSessions(t, strings.Repeat("k", 32))
	ctx := context.Background()
	now := time.Now()
	sessions.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	c, err := sessions.Issue(rec)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.Session().Set(ctx, "A1", "R1", 3600); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cookie := findCookie(t, rec, browserCookieName)

	now = now.Add(DefaultSessionTTL + time.Minute)
	if _, err := sessions.Issue(httptest.NewRecorder()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if sessions.Len() != 1 {
		t.Fatalf("Len = %d, idle client should have been evicted", sessions.Len())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	restored, ok := sessions.Lookup(req)
	if !ok || restored.Session().RefreshToken(ctx) != "R1" {
		t.Fatalf("an evicted session must reload from the store")
	}
}

func TestBrowserSessionsRejectTamperedCookie(t *testing.T) {
	sessions, _ := newTestBrowserSessions(t, strings.Repeat("k", 32))
	other, _ := newTestBrowserSessions(t, strings.Repeat("x", 32))

	rec := httptest.NewRecorder()
	if _, err := other.Issue(rec); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	foreign := findCookie(t, rec, browserCookieName)

	for name, value := range map[string]string{
		"foreign_key": foreign.Value,
		"garbage":     "not-a-jws",
		"truncated":   foreign.Value[:len(foreign.Value)-4],
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: browserCookieName, Value: value})
			if _, ok := sessions.Lookup(req); ok {
				t.Fatalf("cookie %q must not resolve to a session", value)
			}
		})
	}
}

func TestBrowserSessionsSurviveRestart(t *testing.T) {
	key := strings.Repeat("k", 32)
	sessions, store := newTestBrowserSessions(t, key)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	c, err := sessions.Issue(rec)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.Session().Set(ctx, "A1", "R1", 3600); err != nil {
		t.Fatalf("Set: %v", err)
	}

	restarted := NewBrowserSessions(DefaultConfig(), store, client.BackendConfig{APIBase: "http://backend.invalid/api"}, []byte(key), discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(findCookie(t, rec, browserCookieName))
	restored, ok := restarted.Lookup(req)
	if !ok {
		t.Fatalf("session cookie should still verify")
	}
	if got := restored.Session().AccessToken(ctx); got != "A1" {
		t.Fatalf("access token = %q, want A1", got)
	}
}

func TestBrowserSessionsIsolated(t *testing.T) {
	sessions, _ := newTestBrowserSessions(t, strings.Repeat("k", 32))
	ctx := context.Background()

	a, err := sessions.Issue(httptest.NewRecorder())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := sessions.Issue(httptest.NewRecorder())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := a.Session().Set(ctx, "A1", "R1", 3600); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if b.Session().AccessToken(ctx) != "" {
		t.Fatalf("browser sessions must not share tokens")
	}
	if sessions.Len() != 2 {
		t.Fatalf("Len = %d, want 2", sessions.Len())
	}
}
