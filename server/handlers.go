package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Provider IdentityProvider
	Store    *client.SQLiteStore
	Sessions *BrowserSessions
	Relay    *relayLedger
	Proxy    *APIProxy
	Dev      *DevBackend

	httpClient *http.Client
	generate   func() (PKCEChallenge, error)
	ownsStore  bool
}

// AppOption customises NewApp.
type AppOption func(*App)

// WithProvider replaces the upstream identity provider.
func WithProvider(p IdentityProvider) AppOption {
	return func(a *App) { a.Provider = p }
}

// WithStore uses an already opened session store.
func WithStore(store *client.SQLiteStore) AppOption {
	return func(a *App) { a.Store = store }
}

// WithHTTPClient sets the client used for provider and backend calls.
func WithHTTPClient(hc *http.Client) AppOption {
	return func(a *App) { a.httpClient = hc }
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Relay:    newRelayLedger(2 * DefaultResultCookieTTL),
		generate: GeneratePKCE,
	}
	for _, opt := range opts {
		opt(app)
	}

	if cfg.DevBackend.Enabled {
		dev, err := NewDevBackend(cfg.DevBackend, logger)
		if err != nil {
			return nil, err
		}
		app.Dev = dev
		app.Config.Backend.APIBase = cfg.Server.PublicURL + "/dev/backend"
		logger.Warn("dev backend enabled", "api_base", app.Config.Backend.APIBase)
	}

	if app.Provider == nil {
		provider, err := NewOAuthProvider(ctx, app.Config, app.httpClient, logger)
		if err != nil {
			return nil, err
		}
		app.Provider = provider
	}

	if app.Store == nil {
		store, err := client.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		app.Store = store
		app.ownsStore = true
	}

	key, err := sessionSigningKey(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Sessions = NewBrowserSessions(app.Config, app.Store, app.backendConfig(), key, logger)

	proxy, err := NewAPIProxy(app.Config.Backend.APIBase, app.Sessions, app.authRequired, logger)
	if err != nil {
		return nil, fmt.Errorf("init proxy: %w", err)
	}
	app.Proxy = proxy

	return app, nil
}

// Close releases the session store if NewApp opened it.
func (a *App) Close() error {
	if a.ownsStore {
		return a.Store.Close()
	}
	return nil
}

func (a *App) backendConfig() client.BackendConfig {
	return client.BackendConfig{
		APIBase:        a.Config.Backend.APIBase,
		HTTPClient:     a.httpClient,
		RequestTimeout: a.Config.Backend.RequestTimeout,
		RefreshTimeout: a.Config.Backend.RefreshTimeout,
		Logger:         a.Logger,
	}
}

func sessionSigningKey(cfg Config, logger *slog.Logger) ([]byte, error) {
	if cfg.Server.SessionSigningKey != "" {
		return []byte(cfg.Server.SessionSigningKey), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session signing key: %w", err)
	}
	logger.Warn("using ephemeral session signing key; browser sessions will not survive a restart")
	return key, nil
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if a.Provider.ClientID() == "" {
		a.Logger.Error("auth.start failed", "reason", "missing provider client_id")
		http.Error(w, "missing provider client_id", http.StatusInternalServerError)
		return
	}

	pkce, err := a.generate()
	if err != nil {
		a.Logger.Error("auth.start failed", "error", err)
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	a.setCookie(w, verifierCookieName, pkce.Verifier, DefaultPKCECookieTTL, true)
	a.setCookie(w, stateCookieName, pkce.State, DefaultPKCECookieTTL, true)

	a.Logger.Info("auth.start", "state_prefix", pkce.State[:6])
	http.Redirect(w, r, a.Provider.AuthCodeURL(pkce.State, pkce.Challenge), http.StatusFound)
}

// RedeemCallback checks the callback parameters in q against the saved
// state and redeems the authorization code with verifier.
func RedeemCallback(ctx context.Context, p IdentityProvider, q url.Values, savedState, verifier string) (client.ProviderTokens, error) {
	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		return client.ProviderTokens{}, missingParameter()
	}
	if savedState == "" || verifier == "" || subtle.ConstantTimeCompare([]byte(savedState), []byte(state)) != 1 {
		return client.ProviderTokens{}, stateMismatch()
	}
	return p.Exchange(ctx, code, verifier)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	var savedState, verifier string
	if c, err := r.Cookie(stateCookieName); err == nil {
		savedState = c.Value
	}
	if c, err := r.Cookie(verifierCookieName); err == nil {
		verifier = c.Value
	}
	a.expireCookie(w, stateCookieName, true)
	a.expireCookie(w, verifierCookieName, true)

	tokens, err := RedeemCallback(r.Context(), a.Provider, r.URL.Query(), savedState, verifier)
	if err != nil {
		var fe *FlowError
		if errors.As(err, &fe) && fe.Kind != KindCallbackError {
			a.Logger.Warn("auth.callback rejected", "reason", fe.Kind, "error", err)
		} else {
			a.Logger.Error("auth.callback failed", "error", err)
		}
		writeFlowError(w, err)
		return
	}

	value, err := newRelayTicket(tokens).encode()
	if err != nil {
		a.Logger.Error("auth.callback failed", "error", err)
		writeFlowError(w, callbackError(err))
		return
	}
	a.setCookie(w, resultCookieName, value, DefaultResultCookieTTL, false)

	a.Logger.Info("auth.callback", "has_refresh_token", tokens.RefreshToken != "", "has_id_token", tokens.IDToken != "")
	http.Redirect(w, r, a.Config.Server.PublicURL+"/login/success", http.StatusFound)
}

// handleLoginSuccess completes sign-in: the relay ticket is consumed and
// exchanged with the backend for session tokens.
func (a *App) handleLoginSuccess(w http.ResponseWriter, r *http.Request) {
	tokens, ticketErr := a.takeTicket(r)
	a.expireCookie(w, resultCookieName, false)
	if ticketErr != nil {
		a.loginFailed(w, r, ticketErr)
		return
	}

	c, err := a.Sessions.Rotate(r.Context(), w, r)
	if err != nil {
		a.loginFailed(w, r, err)
		return
	}
	if _, err := client.NewExchanger(c.Session(), a.backendConfig()).Exchange(r.Context(), tokens); err != nil {
		a.loginFailed(w, r, err)
		return
	}

	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (a *App) loginFailed(w http.ResponseWriter, r *http.Request, err error) {
	reason := client.LoginReason(err)
	a.Logger.Warn("auth.complete failed", "reason", reason, "error", err)
	http.Redirect(w, r, "/login?error="+url.QueryEscape(reason), http.StatusFound)
}

var loginMessages = map[string]string{
	"no_token":         "No login token was found. Please sign in again.",
	"invalid_token":    "The login token was malformed. Please sign in again.",
	"backend_fail":     "The server rejected the sign-in. Please try again.",
	"invalid_response": "The server returned an unexpected response. Please try again.",
	"unexpected":       "Something went wrong while signing in. Please try again.",
}

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<main>
<h1>Order dashboard</h1>
{{if .Message}}<p role="alert">{{.Message}}</p>{{end}}
<a href="/api/auth/google/start">Sign in with Google</a>
</main>
</body>
</html>
`))

var dashboardPage = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Dashboard</title></head>
<body>
<main>
<h1>Welcome{{if .Name}}, {{.Name}}{{end}}</h1>
{{if .Email}}<p>{{.Email}}</p>{{end}}
<form method="post" action="/api/auth/logout?redirect=1"><button type="submit">Sign out</button></form>
</main>
</body>
</html>
`))

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	data := struct{ Message string }{}
	if reason := r.URL.Query().Get("error"); reason != "" {
		msg, ok := loginMessages[reason]
		if !ok {
			msg = loginMessages["unexpected"]
		}
		data.Message = msg
	}
	renderHTML(w, loginPage, data, a.Logger)
}

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	c, ok := a.Sessions.Lookup(r)
	if !ok || !c.Session().IsAuthenticated(r.Context()) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	user := c.Session().User(r.Context())
	if user == nil {
		user = &client.UserProfile{}
	}
	renderHTML(w, dashboardPage, user, a.Logger)
}

type sessionStatus struct {
	Authenticated bool                `json:"authenticated"`
	User          *client.UserProfile `json:"user,omitempty"`
}

func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	c, ok := a.Sessions.Lookup(r)
	if !ok {
		writeJSON(w, sessionStatus{})
		return
	}
	sess := c.Session()
	writeJSON(w, sessionStatus{
		Authenticated: sess.IsAuthenticated(r.Context()),
		User:          sess.User(r.Context()),
	})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Drop(r.Context(), w, r); err != nil {
		a.Logger.Error("logout failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	a.Logger.Info("auth.logout")
	if r.URL.Query().Get("redirect") != "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// authRequired sends the user agent back to the login entry point. Page
// navigations get a redirect; API callers get a 401 naming the location.
func (a *App) authRequired(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	w.Header().Set("Location", "/login")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": client.ErrAuthenticationRequired.Error()})
}

func wantsHTML(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}

func renderHTML(w http.ResponseWriter, tmpl *template.Template, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := tmpl.Execute(w, data); err != nil {
		logger.Error("render page", "template", tmpl.Name(), "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
