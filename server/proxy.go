package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

// APIProxy forwards dashboard /api/* calls to the REST backend on behalf of
// the caller's browser session. Credentials never leave the gateway: the
// browser's cookies are stripped and the session's bearer token is attached
// by the authenticated request wrapper.
type APIProxy struct {
	sessions *BrowserSessions
	proxy    *httputil.ReverseProxy
	logger   *slog.Logger
	onAuth   func(http.ResponseWriter, *http.Request)
}

type proxyClientKey struct{}

// roundTripperFunc adapts a function to http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// NewAPIProxy creates the proxy for apiBase.
func NewAPIProxy(apiBase string, sessions *BrowserSessions, onAuthRequired func(http.ResponseWriter, *http.Request), logger *slog.Logger) (*APIProxy, error) {
	target, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid backend api_base: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid backend api_base %q", apiBase)
	}

	p := &APIProxy{sessions: sessions, logger: logger, onAuth: onAuthRequired}
	p.proxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.Header.Set("X-Forwarded-Host", req.Host)
			req.Header.Set("X-Forwarded-Proto", schemeFromRequest(req))

			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = joinPath(target.Path, strings.TrimPrefix(req.URL.Path, "/api"))
			req.URL.RawPath = ""
			req.Host = target.Host

			req.Header.Del("Cookie")
			req.Header.Del("Authorization")
		},
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			c, ok := req.Context().Value(proxyClientKey{}).(*client.Client)
			if !ok {
				return nil, errors.New("proxy request without session client")
			}
			return c.Do(req)
		}),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, client.ErrAuthenticationRequired) {
				p.onAuth(w, r)
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("proxy error",
				"target", target.Host,
				"error", err,
				"path", r.URL.Path,
			)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
	return p, nil
}

// ServeHTTP proxies r through the caller's session client.
func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := p.sessions.Resolve(r)

	p.logger.Debug("proxying request",
		"path", r.URL.Path,
		"method", r.Method,
	)

	ctx := context.WithValue(r.Context(), proxyClientKey{}, c)
	p.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func joinPath(base, suffix string) string {
	base = strings.TrimSuffix(base, "/")
	if suffix == "" {
		suffix = "/"
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return base + suffix
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
