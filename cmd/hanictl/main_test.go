package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
	"github.com/ThanhDoDuy/order-system-hani-FE/server"
)

type stubProvider struct {
	mu        sync.Mutex
	challenge string
	verifier  string
	code      string
}

func (s *stubProvider) AuthCodeURL(state, codeChallenge string) string {
	s.mu.Lock()
	s.challenge = codeChallenge
	s.mu.Unlock()
	return "https://accounts.example.com/auth?" + url.Values{"state": {state}}.Encode()
}

func (s *stubProvider) Exchange(ctx context.Context, code, verifier string) (client.ProviderTokens, error) {
	s.mu.Lock()
	s.code, s.verifier = code, verifier
	s.mu.Unlock()
	return client.ProviderTokens{AccessToken: "g-access", IDToken: "id-token"}, nil
}

func (s *stubProvider) ClientID() string { return "cli-client" }

// dashboardBackend accepts bearer "A1" and refuses every refresh.
func dashboardBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/google":
			var body struct {
				IDToken string `json:"idToken"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.IDToken != "id-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"success":true,"data":{"accessToken":"A1","refreshToken":"R1","expiresIn":3600,"user":{"id":"u1","email":"ops@hani.test","name":"Ops"}}}`))
			return
		case "/api/auth/refresh":
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Unauthorized"}`))
			return
		}
		switch r.URL.Path {
		case "/api/orders":
			if r.URL.Query().Get("status") != "pending" {
				t.Errorf("status filter not forwarded: %q", r.URL.RawQuery)
			}
			w.Write([]byte(`{"data":[{"id":"o1","orderNumber":"ORD-1","status":"pending"}],"total":1}`))
		case "/api/dashboard/stats":
			w.Write([]byte(`{"totalOrders":3,"totalRevenue":120.5,"pendingOrders":1,"totalProducts":9,"ordersTrend":0,"revenueTrend":0}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setEnv(t *testing.T, apiBase string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "session.db")
	t.Setenv("HANI_API_BASE_URL", apiBase)
	t.Setenv("HANI_STATE_DB", dbPath)
	t.Setenv("HANI_LOGIN_ADDR", "127.0.0.1:0")
	t.Setenv("GOOGLE_CLIENT_ID", "cli-client")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")
	return dbPath
}

func runCLI(t *testing.T, configure func(*cli), args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := newCLI(&out, &errOut)
	if configure != nil {
		configure(c)
	}
	err := c.execute(context.Background(), args)
	return out.String(), errOut.String(), err
}

func seedSession(t *testing.T, dbPath, access string) {
	t.Helper()
	store, err := client.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	session := client.NewSession(store.Namespace(sessionNamespace))
	if err := session.Set(context.Background(), access, "R1", 3600); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

// withLoopback answers the provider redirect by calling the loopback
// callback with the given state (the real one when state is empty).
func withLoopback(provider *stubProvider, state string) func(*cli) {
	return func(c *cli) {
		var redirect string
		c.newProvider = func(ctx context.Context, cfg server.Config) (server.IdentityProvider, error) {
			redirect = cfg.RedirectURI()
			return provider, nil
		}
		c.browse = func(authURL string) {
			u, _ := url.Parse(authURL)
			got := state
			if got == "" {
				got = u.Query().Get("state")
			}
			go func() {
				resp, err := http.Get(redirect + "?" + url.Values{"code": {"abc"}, "state": {got}}.Encode())
				if err == nil {
					resp.Body.Close()
				}
			}()
		}
	}
}

func decodeStatus(t *testing.T, out string) statusView {
	t.Helper()
	var view statusView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode status %q: %v", out, err)
	}
	return view
}

func TestLoginStoresSession(t *testing.T) {
	backend := dashboardBackend(t)
	setEnv(t, backend.URL+"/api")
	provider := &stubProvider{}

	out, _, err := runCLI(t, withLoopback(provider, ""), "login")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if view := decodeStatus(t, out); view.User == nil || view.User.Email != "ops@hani.test" {
		t.Fatalf("login did not report the user: %s", out)
	}
	if provider.code != "abc" {
		t.Fatalf("provider got code %q", provider.code)
	}
	if oauth2.S256ChallengeFromVerifier(provider.verifier) != provider.challenge {
		t.Fatalf("verifier %q does not match challenge %q", provider.verifier, provider.challenge)
	}

	out, _, err = runCLI(t, nil, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	view := decodeStatus(t, out)
	if !view.Authenticated || view.ExpiresAt == nil || view.User == nil || view.User.Name != "Ops" {
		t.Fatalf("session was not persisted: %s", out)
	}
}

func TestLoginRejectsForgedState(t *testing.T) {
	backend := dashboardBackend(t)
	setEnv(t, backend.URL+"/api")

	_, _, err := runCLI(t, withLoopback(&stubProvider{}, "forged"), "login")
	var fe *server.FlowError
	if !errors.As(err, &fe) || fe.Kind != server.KindStateMismatch {
		t.Fatalf("expected state mismatch, got %v", err)
	}

	out, _, _ := runCLI(t, nil, "status")
	if decodeStatus(t, out).Authenticated {
		t.Fatalf("a forged callback must not sign in")
	}
}

func TestLoginRequiresClientID(t *testing.T) {
	backend := dashboardBackend(t)
	setEnv(t, backend.URL+"/api")
	t.Setenv("GOOGLE_CLIENT_ID", "")

	_, _, err := runCLI(t, nil, "login")
	if err == nil || !strings.Contains(err.Error(), "GOOGLE_CLIENT_ID") {
		t.Fatalf("expected missing client id error, got %v", err)
	}
}

func TestOrdersListSendsBearer(t *testing.T) {
	backend := dashboardBackend(t)
	seedSession(t, setEnv(t, backend.URL+"/api"), "A1")

	out, _, err := runCLI(t, nil, "orders", "list", "--status", "pending")
	if err != nil {
		t.Fatalf("orders list: %v", err)
	}
	var page client.Page[client.Order]
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].ID != "o1" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestOrdersGetMissing(t *testing.T) {
	backend := dashboardBackend(t)
	seedSession(t, setEnv(t, backend.URL+"/api"), "A1")

	_, _, err := runCLI(t, nil, "orders", "get", "missing")
	if err == nil || !strings.Contains(err.Error(), "order missing not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExpiredSessionAsksForLogin(t *testing.T) {
	backend := dashboardBackend(t)
	seedSession(t, setEnv(t, backend.URL+"/api"), "revoked")

	_, errOut, err := runCLI(t, nil, "stats")
	if !errors.Is(err, client.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if !strings.Contains(errOut, "hanictl login") {
		t.Fatalf("expected a login hint, got %q", errOut)
	}

	out, _, _ := runCLI(t, nil, "status")
	if decodeStatus(t, out).Authenticated {
		t.Fatalf("an unrecoverable session must be cleared")
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	backend := dashboardBackend(t)
	setEnv(t, backend.URL+"/api")

	_, _, err := runCLI(t, nil, "refresh")
	if !errors.Is(err, client.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
}

func TestLogoutForgetsSession(t *testing.T) {
	backend := dashboardBackend(t)
	seedSession(t, setEnv(t, backend.URL+"/api"), "A1")

	out, _, err := runCLI(t, nil, "logout")
	if err != nil || !strings.Contains(out, "Signed out.") {
		t.Fatalf("logout: %q %v", out, err)
	}
	out, _, _ = runCLI(t, nil, "status")
	if decodeStatus(t, out).Authenticated {
		t.Fatalf("session survived logout")
	}
}

func TestInvalidEnvironment(t *testing.T) {
	setEnv(t, "not a url")

	if _, _, err := runCLI(t, nil, "status"); err == nil || !strings.Contains(err.Error(), "invalid environment") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
