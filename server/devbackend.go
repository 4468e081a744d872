package server

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jose "github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

const (
	devIssuer        = "hani-dev-backend"
	devAccessUse     = "access"
	devRefreshUse    = "refresh"
	devRefreshTTL    = 30 * 24 * time.Hour
	devDefaultRole   = "admin"
	devFallbackEmail = "dev@localhost"
)

// DevBackend stands in for the REST backend's identity endpoints during
// local development. It accepts any identity token and mints HS256 JWTs.
type DevBackend struct {
	key       []byte
	accessTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type devClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Use   string `json:"use"`
}

// NewDevBackend builds the stand-in backend. An empty signing key is
// replaced with a random one.
func NewDevBackend(cfg DevBackendConfig, logger *slog.Logger) (*DevBackend, error) {
	key := []byte(cfg.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate dev backend key: %w", err)
		}
	}
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DevBackend{key: key, accessTTL: ttl, logger: logger, now: time.Now}, nil
}

// Routes exposes POST /auth/google, POST /auth/refresh and GET /auth/me.
func (d *DevBackend) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/auth/google", d.handleIdentity)
	r.Post("/auth/refresh", d.handleRefresh)
	r.Get("/auth/me", d.handleMe)
	return r
}

func (d *DevBackend) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		devError(w, http.StatusBadRequest, "Missing idToken")
		return
	}

	user := peekIdentity(req.IDToken)
	user.Role = devDefaultRole

	access, err := d.mint(user, devAccessUse, d.accessTTL)
	if err != nil {
		devError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := d.mint(user, devRefreshUse, devRefreshTTL)
	if err != nil {
		devError(w, http.StatusInternalServerError, err.Error())
		return
	}

	d.logger.Info("dev backend identity issued", "subject", user.ID, "email", user.Email)
	writeJSON(w, map[string]any{
		"success": true,
		"data": map[string]any{
			"accessToken":  access,
			"refreshToken": refresh,
			"expiresIn":    int64(d.accessTTL.Seconds()),
			"user":         user,
		},
	})
}

func (d *DevBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		devError(w, http.StatusBadRequest, "Missing refreshToken")
		return
	}

	claims, err := d.parse(req.RefreshToken, devRefreshUse)
	if err != nil {
		d.logger.Warn("dev backend refresh rejected", "error", err)
		devError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := d.mint(claims.profile(), devAccessUse, d.accessTTL)
	if err != nil {
		devError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"accessToken":  access,
		"refreshToken": req.RefreshToken,
		"expiresIn":    int64(d.accessTTL.Seconds()),
		"tokenType":    "Bearer",
	})
}

func (d *DevBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		devError(w, http.StatusUnauthorized, "Missing bearer token")
		return
	}
	claims, err := d.parse(token, devAccessUse)
	if err != nil {
		devError(w, http.StatusUnauthorized, "Invalid access token")
		return
	}
	writeJSON(w, map[string]any{"success": true, "data": claims.profile()})
}

func (d *DevBackend) mint(user client.UserProfile, use string, ttl time.Duration) (string, error) {
	now := d.now()
	claims := devClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    devIssuer,
			Subject:   user.ID,
			ID:        ksuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
		Use:   use,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", use, err)
	}
	return signed, nil
}

func (d *DevBackend) parse(token, use string) (*devClaims, error) {
	claims := &devClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return d.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(devIssuer),
		jwt.WithTimeFunc(d.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Use != use {
		return nil, errors.New("token used for the wrong purpose")
	}
	return claims, nil
}

func (c *devClaims) profile() client.UserProfile {
	return client.UserProfile{ID: c.Subject, Email: c.Email, Name: c.Name, Role: c.Role}
}

// peekIdentity reads profile claims from an identity token without checking
// its signature. Tokens that do not parse yield a placeholder user.
func peekIdentity(idToken string) client.UserProfile {
	user := client.UserProfile{ID: "dev-user", Email: devFallbackEmail, Name: "Dev User"}
	sig, err := jose.ParseSigned(idToken)
	if err != nil {
		return user
	}
	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(sig.UnsafePayloadWithoutVerification(), &claims); err != nil {
		return user
	}
	if claims.Subject != "" {
		user.ID = claims.Subject
	}
	if claims.Email != "" {
		user.Email = claims.Email
	}
	if claims.Name != "" {
		user.Name = claims.Name
	}
	user.Picture = claims.Picture
	return user
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(auth[7:])
	return token, token != ""
}

func devError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
