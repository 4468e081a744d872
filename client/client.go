// Package client holds the dashboard's session subsystem: the token store,
// the refresh coordinator, the backend identity exchange and the
// authenticated request wrapper used for every REST call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds each outbound request.
const DefaultRequestTimeout = 30 * time.Second

// BackendConfig describes the REST backend.
type BackendConfig struct {
	APIBase        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

func (c BackendConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c BackendConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// AuthRequiredFunc sends the user back to the login entry point once a
// session is unrecoverable.
type AuthRequiredFunc func(ctx context.Context)

// Client issues authenticated requests against the backend on behalf of one Session.
type Client struct {
	base           string
	http           *http.Client
	session        *Session
	refresher      *Refresher
	onAuthRequired AuthRequiredFunc
	logger         *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// OnAuthRequired installs the hook run when a 401 cannot be recovered.
func OnAuthRequired(fn AuthRequiredFunc) Option {
	return func(c *Client) { c.onAuthRequired = fn }
}

// New builds a Client for session.
func New(session *Session, cfg BackendConfig, opts ...Option) *Client {
	c := &Client{
		base:      strings.TrimSuffix(cfg.APIBase, "/"),
		http:      cfg.httpClient(),
		session:   session,
		refresher: NewRefresher(session, cfg),
		logger:    cfg.logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the Session backing c.
func (c *Client) Session() *Session { return c.session }

// Refresher returns the Session's refresh coordinator.
func (c *Client) Refresher() *Refresher { return c.refresher }

// BaseURL returns the backend API base.
func (c *Client) BaseURL() string { return c.base }

// NewRequest builds a request against path, relative to the API base unless
// path is absolute. A non-nil body is sent as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.base + "/" + strings.TrimPrefix(path, "/")
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req with the session's bearer token. A stale token is refreshed
// first. A 401 triggers one refresh and one retry; the retry's response is
// returned whatever its status. When the refresh yields nothing the session
// is cleared and ErrAuthenticationRequired is returned. Other statuses are
// returned untouched.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := bufferBody(req); err != nil {
		return nil, err
	}

	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	token, err = c.refresher.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		if err := c.session.Clear(ctx); err != nil {
			c.logger.Warn("session.clear failed", "error", err)
		}
		c.logger.Info("session.expired", "method", req.Method, "path", req.URL.Path)
		if c.onAuthRequired != nil {
			c.onAuthRequired(ctx)
		}
		return nil, ErrAuthenticationRequired
	}
	return c.send(req, token)
}

// DoJSON sends in as JSON and decodes a 2xx reply into out. Non-2xx replies
// become *HTTPError; a 403 also matches ErrAccessDenied.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	token := c.session.AccessToken(ctx)
	if token != "" && !c.session.IsExpired(ctx) {
		return token, nil
	}
	fresh, err := c.refresher.Refresh(ctx)
	if err != nil {
		return "", err
	}
	if fresh != "" {
		return fresh, nil
	}
	// The backend stays the final authority; an unauthenticated call may still be allowed.
	return token, nil
}

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	// Requests relayed from a server handler still carry RequestURI.
	out.RequestURI = ""
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind body: %w", err)
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	resp, err := c.http.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// bufferBody makes req replayable for the single retry.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(b))
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	httpErr := &HTTPError{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		httpErr.Message = body.Message
	}
	return httpErr
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
