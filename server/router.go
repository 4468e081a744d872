package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router for the sign-in flow, the dashboard pages
// and the authenticated API proxy.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger, a.Config.Server.DevMode))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/healthz", a.handleHealthz)

	r.Get("/api/auth/google/start", a.handleStart)
	r.Get("/api/auth/google/callback", a.handleCallback)
	r.Post("/api/auth/logout", a.handleLogout)
	r.Get("/api/session", a.handleSession)
	r.Handle("/api/*", a.Proxy)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
	r.Get("/login", a.handleLogin)
	r.Get("/login/success", a.handleLoginSuccess)
	r.Get("/dashboard", a.handleDashboard)

	if a.Dev != nil {
		r.Mount("/dev/backend", a.Dev.Routes())
	}

	return r
}
