package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a single refresh round trip.
const DefaultRefreshTimeout = 15 * time.Second

var validate = validator.New()

type tokenPayload struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn" validate:"gte=0"`
}

// refreshEnvelope accepts the backend's two documented reply shapes:
// the token fields wrapped in "data", or the same fields at the top level.
type refreshEnvelope struct {
	Data *tokenPayload `json:"data"`
	tokenPayload
}

func (e refreshEnvelope) payload() (tokenPayload, error) {
	p := e.tokenPayload
	if e.Data != nil {
		p = *e.Data
	}
	if err := validate.Struct(p); err != nil {
		return tokenPayload{}, fmt.Errorf("%w: %v", ErrInvalidBackendResponse, err)
	}
	return p, nil
}

// Refresher obtains new access tokens for one Session. Concurrent calls
// share a single in-flight request.
type Refresher struct {
	session *Session
	http    *http.Client
	url     string
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// NewRefresher builds a Refresher posting to {apiBase}/auth/refresh.
func NewRefresher(session *Session, cfg BackendConfig) *Refresher {
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Refresher{
		session: session,
		http:    cfg.httpClient(),
		url:     strings.TrimSuffix(cfg.APIBase, "/") + "/auth/refresh",
		timeout: timeout,
		logger:  cfg.logger(),
	}
}

// Refresh returns a new access token. It returns "" with a nil error when
// the session has no refresh token or the backend rejected it; in the
// latter case the whole session is cleared.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan("refresh", func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refresh(callCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Refresher) refresh(ctx context.Context) (string, error) {
	refreshToken := r.session.RefreshToken(ctx)
	if refreshToken == "" {
		return "", nil
	}

	resp, err := postJSON(ctx, r.http, r.url, map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		r.logger.Warn("session.refresh rejected", "status", resp.StatusCode)
		if err := r.session.Clear(ctx); err != nil {
			return "", err
		}
		return "", nil
	}

	var env refreshEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return "", fmt.Errorf("%w: decode refresh reply: %v", ErrInvalidBackendResponse, err)
	}
	p, err := env.payload()
	if err != nil {
		return "", err
	}

	nextRefresh := p.RefreshToken
	if nextRefresh == "" {
		nextRefresh = refreshToken
	}
	if err := r.session.Set(ctx, p.AccessToken, nextRefresh, p.ExpiresIn); err != nil {
		return "", err
	}
	r.logger.Debug("session.refresh ok", "rotated", nextRefresh != refreshToken)
	return p.AccessToken, nil
}

func postJSON(ctx context.Context, hc *http.Client, url string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return hc.Do(req)
}
