package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// signedInCookie registers a browser session holding the given tokens and
// returns its cookie.
func signedInCookie(t *testing.T, app *App, access, refresh string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	c, err := app.Sessions.Issue(rec)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.Session().Set(context.Background(), access, refresh, 3600); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return findCookie(t, rec, browserCookieName)
}

type proxiedRequest struct {
	path          string
	query         string
	authorization string
	cookie        string
	forwardedHost string
	body          string
}

type apiBackend struct {
	*httptest.Server
	requests  chan proxiedRequest
	valid     atomic.Value
	refreshes atomic.Int32
	refreshOK atomic.Bool
}

func newAPIBackend(t *testing.T) *apiBackend {
	t.Helper()
	b := &apiBackend{requests: make(chan proxiedRequest, 16)}
	b.valid.Store("A1")
	b.refreshOK.Store(true)
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh" {
			b.refreshes.Add(1)
			if !b.refreshOK.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			b.valid.Store("A2")
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"data":{"accessToken":"A2","refreshToken":"R2","expiresIn":3600}}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.requests <- proxiedRequest{
			path:          r.URL.Path,
			query:         r.URL.RawQuery,
			authorization: r.Header.Get("Authorization"),
			cookie:        r.Header.Get("Cookie"),
			forwardedHost: r.Header.Get("X-Forwarded-Host"),
			body:          string(body),
		}
		if r.Header.Get("Authorization") != "Bearer "+b.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[],"total":0}`)
	}))
	t.Cleanup(b.Close)
	return b
}

func newProxyApp(t *testing.T, backend *apiBackend) *App {
	t.Helper()
	cfg := testConfig(t)
	cfg.Backend.APIBase = backend.URL + "/api"
	return newTestApp(t, cfg)
}

func TestProxyAttachesBearerAndStripsCookies(t *testing.T) {
	backend := newAPIBackend(t)
	app := newProxyApp(t, backend)
	cookie := signedInCookie(t, app, "A1", "R1")

	req := httptest.NewRequest(http.MethodGet, "http://admin.local/api/orders?page=2&limit=10", nil)
	req.AddCookie(cookie)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := <-backend.requests
	if got.path != "/api/orders" || got.query != "page=2&limit=10" {
		t.Fatalf("unexpected upstream target %s?%s", got.path, got.query)
	}
	if got.authorization != "Bearer A1" {
		t.Fatalf("Authorization = %q, want session token", got.authorization)
	}
	if got.cookie != "" {
		t.Fatalf("browser cookies leaked upstream: %q", got.cookie)
	}
	if got.forwardedHost != "admin.local" {
		t.Fatalf("X-Forwarded-Host = %q", got.forwardedHost)
	}
}

func TestProxyRefreshesAndRetriesOn401(t *testing.T) {
	backend := newAPIBackend(t)
	backend.valid.Store("A2")
	app := newProxyApp(t, backend)
	cookie := signedInCookie(t, app, "A1", "R1")

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"customerName":"Lan"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the retried response, got %d", rec.Code)
	}
	first, second := <-backend.requests, <-backend.requests
	if first.authorization != "Bearer A1" || second.authorization != "Bearer A2" {
		t.Fatalf("unexpected authorization sequence %q, %q", first.authorization, second.authorization)
	}
	if second.body != `{"customerName":"Lan"}` {
		t.Fatalf("retry body = %q", second.body)
	}
	if backend.refreshes.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", backend.refreshes.Load())
	}
}

func TestProxyRequiresLoginWhenRefreshFails(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		status   int
		location string
	}{
		{name: "api_call", headers: map[string]string{"Accept": "application/json"}, status: http.StatusUnauthorized, location: "/login"},
		{name: "navigation", headers: map[string]string{"Sec-Fetch-Mode": "navigate"}, status: http.StatusFound, location: "/login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newAPIBackend(t)
			backend.valid.Store("other")
			backend.refreshOK.Store(false)
			app := newProxyApp(t, backend)
			cookie := signedInCookie(t, app, "A1", "R1")

			req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			app.Routes().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if rec.Header().Get("Location") != tt.location {
				t.Fatalf("Location = %q", rec.Header().Get("Location"))
			}
			if tt.status == http.StatusUnauthorized {
				var body map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["message"] == "" {
					t.Fatalf("expected a JSON message, got %v %v", body, err)
				}
			}

			lookup := httptest.NewRequest(http.MethodGet, "/", nil)
			lookup.AddCookie(cookie)
			c, _ := app.Sessions.Lookup(lookup)
			if c.Session().IsAuthenticated(context.Background()) {
				t.Fatalf("session must be cleared after a failed refresh")
			}
		})
	}
}

func TestProxyBadGatewayWhenBackendDown(t *testing.T) {
	backend := newAPIBackend(t)
	app := newProxyApp(t, backend)
	cookie := signedInCookie(t, app, "A1", "R1")
	backend.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestProxyForwardsAnonymousCallerWithoutSession(t *testing.T) {
	backend := newAPIBackend(t)
	app := newProxyApp(t, backend)

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		app.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/categories", nil))

		got := <-backend.requests
		if got.authorization != "" {
			t.Fatalf("anonymous calls carry no credentials, got %q", got.authorization)
		}
		for _, c := range rec.Result().Cookies() {
			if c.Name == browserCookieName {
				t.Fatalf("anonymous calls must not be issued a browser session")
			}
		}
	}
	if n := app.Sessions.Len(); n != 0 {
		t.Fatalf("browser sessions held after anonymous calls: %d", n)
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct{ base, suffix, want string }{
		{"/api", "/orders", "/api/orders"},
		{"/api/", "/orders", "/api/orders"},
		{"", "/orders", "/orders"},
		{"/api", "", "/api/"},
		{"/api", "orders", "/api/orders"},
	}
	for _, tt := range tests {
		if got := joinPath(tt.base, tt.suffix); got != tt.want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", tt.base, tt.suffix, got, tt.want)
		}
	}
}
