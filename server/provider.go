package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

// IdentityProvider is the upstream authorization server.
type IdentityProvider interface {
	AuthCodeURL(state, codeChallenge string) string
	Exchange(ctx context.Context, code, verifier string) (client.ProviderTokens, error)
	ClientID() string
}

// OAuthProvider drives the authorization code grant with golang.org/x/oauth2.
type OAuthProvider struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOAuthProvider builds the provider from configuration. A configured
// issuer is resolved via discovery; otherwise explicit endpoints or
// Google's are used.
func NewOAuthProvider(ctx context.Context, cfg Config, httpClient *http.Client, logger *slog.Logger) (*OAuthProvider, error) {
	endpoint := endpoints.Google
	switch {
	case cfg.Provider.Issuer != "":
		discoverCtx := ctx
		if httpClient != nil {
			discoverCtx = oidc.ClientContext(ctx, httpClient)
		}
		op, err := oidc.NewProvider(discoverCtx, cfg.Provider.Issuer)
		if err != nil {
			return nil, fmt.Errorf("discover provider %s: %w", cfg.Provider.Issuer, err)
		}
		endpoint = op.Endpoint()
	case cfg.Provider.AuthURL != "":
		endpoint = oauth2.Endpoint{AuthURL: cfg.Provider.AuthURL, TokenURL: cfg.Provider.TokenURL}
	}
	if cfg.Provider.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	return &OAuthProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			RedirectURL:  cfg.RedirectURI(),
			Endpoint:     endpoint,
			Scopes:       cfg.Provider.Scopes,
		},
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ClientID returns the configured OAuth client id.
func (p *OAuthProvider) ClientID() string { return p.oauthConfig.ClientID }

// AuthCodeURL requests offline access with a forced consent prompt so the
// provider issues a refresh token.
func (p *OAuthProvider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", challengeMethod),
	)
}

// Exchange redeems code with the PKCE verifier. A non-2xx token endpoint
// reply becomes a TokenExchangeFailed flow error carrying its body.
func (p *OAuthProvider) Exchange(ctx context.Context, code, verifier string) (client.ProviderTokens, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	tok, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return client.ProviderTokens{}, tokenExchangeFailed(string(rerr.Body), err)
		}
		return client.ProviderTokens{}, callbackError(fmt.Errorf("exchange code: %w", err))
	}

	out := client.ProviderTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if expiresIn, ok := tok.Extra("expires_in").(float64); ok {
		out.ExpiresIn = int64(expiresIn)
	} else if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	return out, nil
}
