package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ProviderTokens is the token set returned by the identity provider's
// authorization code exchange.
type ProviderTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
}

type identityEnvelope struct {
	Success bool             `json:"success" validate:"eq=true"`
	Data    *identityPayload `json:"data" validate:"required"`
}

type identityPayload struct {
	AccessToken  string       `json:"accessToken" validate:"required"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    *int64       `json:"expiresIn" validate:"omitempty,gte=0"`
	User         *UserProfile `json:"user"`
}

// Exchanger trades the provider's identity token for the backend's own
// session tokens and commits them to a Session.
type Exchanger struct {
	session *Session
	http    *http.Client
	url     string
	logger  *slog.Logger
}

// NewExchanger builds an Exchanger posting to {apiBase}/auth/google.
func NewExchanger(session *Session, cfg BackendConfig) *Exchanger {
	return &Exchanger{
		session: session,
		http:    cfg.httpClient(),
		url:     strings.TrimSuffix(cfg.APIBase, "/") + "/auth/google",
		logger:  cfg.logger(),
	}
}

// Exchange presents tokens.IDToken to the backend. On success the backend
// tokens are stored, falling back to the provider's refresh token and
// lifetime when the backend omits them, and the returned profile (if any)
// is cached.
func (e *Exchanger) Exchange(ctx context.Context, tokens ProviderTokens) (*UserProfile, error) {
	if tokens.AccessToken == "" && tokens.IDToken == "" {
		return nil, ErrInvalidToken
	}

	resp, err := postJSON(ctx, e.http, e.url, map[string]string{"idToken": tokens.IDToken})
	if err != nil {
		return nil, fmt.Errorf("backend identity exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e.logger.Warn("auth.complete backend rejected", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendExchangeFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env identityEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackendResponse, err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackendResponse, err)
	}
	data := env.Data

	refreshToken := data.RefreshToken
	if refreshToken == "" {
		refreshToken = tokens.RefreshToken
	}
	expiresIn := tokens.ExpiresIn
	if data.ExpiresIn != nil {
		expiresIn = *data.ExpiresIn
	}
	if err := e.session.Set(ctx, data.AccessToken, refreshToken, expiresIn); err != nil {
		return nil, err
	}
	if data.User != nil {
		if err := e.session.SetUser(ctx, *data.User); err != nil {
			return nil, err
		}
	}
	e.logger.Info("auth.complete", "user_present", data.User != nil)
	return data.User, nil
}
