package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	// ExpiryBuffer treats access tokens as expired this long before the backend would.
	ExpiryBuffer = 5 * time.Minute
	// DefaultExpiresIn applies when a token reply omits expiresIn.
	DefaultExpiresIn = 3600
)

// UserProfile is a display-only snapshot of the signed-in user.
type UserProfile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Session owns the current access token, its expiry and the refresh token.
// Values are cached in memory and mirrored into Storage so a new Session
// over the same Storage picks them back up.
type Session struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	accessToken string
	expiryAt    time.Time
	user        *UserProfile
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the logger used for storage failures.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession constructs a Session over storage.
func NewSession(storage Storage, opts ...SessionOption) *Session {
	s := &Session{
		storage: storage,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set records a freshly issued token pair. An empty refreshToken keeps the
// stored one.
func (s *Session) Set(ctx context.Context, accessToken, refreshToken string, expiresIn int64) error {
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	expiryAt := s.now().Add(time.Duration(expiresIn) * time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.expiryAt = expiryAt

	if err := s.storage.Set(ctx, KeyAccessToken, accessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if err := s.storage.Set(ctx, KeyTokenExpiry, strconv.FormatInt(expiryAt.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("persist token expiry: %w", err)
	}
	if refreshToken != "" {
		if err := s.storage.Set(ctx, KeyRefreshToken, refreshToken); err != nil {
			return fmt.Errorf("persist refresh token: %w", err)
		}
	}
	return nil
}

// AccessToken returns the cached access token, reading through to storage
// when memory is empty. It returns "" when none is known.
func (s *Session) AccessToken(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != "" {
		return s.accessToken
	}
	v := s.read(ctx, KeyAccessToken)
	if v != "" {
		s.accessToken = v
	}
	return v
}

// RefreshToken returns the stored refresh token or "".
func (s *Session) RefreshToken(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, KeyRefreshToken)
}

// ExpiryAt returns the recorded expiry instant, zero when none is recorded.
func (s *Session) ExpiryAt(ctx context.Context) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry(ctx)
}

// IsExpired reports whether the access token must be refreshed before use.
func (s *Session) IsExpired(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired(ctx)
}

// IsAuthenticated reports whether the session is usable or recoverable.
// Any other state is cleared.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	if s.RefreshToken(ctx) != "" {
		return true
	}
	if s.AccessToken(ctx) != "" && !s.IsExpired(ctx) {
		return true
	}
	if err := s.Clear(ctx); err != nil {
		s.logger.Warn("session.clear failed", "error", err)
	}
	return false
}

// Clear wipes memory and storage.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.expiryAt = time.Time{}
	s.user = nil
	if err := s.storage.Delete(ctx, sessionKeys...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SetUser caches the display profile.
func (s *Session) SetUser(ctx context.Context, user UserProfile) error {
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
	if err := s.storage.Set(ctx, KeyUser, string(b)); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	return nil
}

// User returns the cached profile, or nil when the session is not
// authenticated or no profile was stored.
func (s *Session) User(ctx context.Context) *UserProfile {
	if !s.IsAuthenticated(ctx) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		u := *s.user
		return &u
	}
	raw := s.read(ctx, KeyUser)
	if raw == "" {
		return nil
	}
	var user UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn("session.user undecodable", "error", err)
		return nil
	}
	s.user = &user
	u := user
	return &u
}

func (s *Session) expired(ctx context.Context) bool {
	exp := s.expiry(ctx)
	if exp.IsZero() {
		return true
	}
	return s.now().After(exp.Add(-ExpiryBuffer))
}

func (s *Session) expiry(ctx context.Context) time.Time {
	if !s.expiryAt.IsZero() {
		return s.expiryAt
	}
	raw := s.read(ctx, KeyTokenExpiry)
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("session.expiry undecodable", "value", raw, "error", err)
		return time.Time{}
	}
	s.expiryAt = time.UnixMilli(ms)
	return s.expiryAt
}

// read must be called with s.mu held. Storage failures are logged and
// treated as an absent value.
func (s *Session) read(ctx context.Context, key string) string {
	v, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		s.logger.Warn("session.storage read failed", "key", key, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}
