package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/segmentio/ksuid"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

const browserCookieName = "hani_session"

// BrowserSessions maps each user agent to its own Session, keyed by a
// signed id in the hani_session cookie. Session values live in the SQLite
// store under a per-browser namespace. Only a completed sign-in issues an
// id; anonymous callers share a tokenless client.
type BrowserSessions struct {
	store     *client.SQLiteStore
	backend   client.BackendConfig
	key       []byte
	ttl       time.Duration
	secure    bool
	domain    string
	logger    *slog.Logger
	now       func() time.Time
	anonymous *client.Client

	mu      sync.RWMutex
	clients map[string]*browserClient
}

// browserClient is a cached client. Entries idle for longer than the
// session TTL are evicted; their values stay in the store.
type browserClient struct {
	client   *client.Client
	lastUsed atomic.Int64
}

// NewBrowserSessions constructs the per-browser session registry.
func NewBrowserSessions(cfg Config, store *client.SQLiteStore, backend client.BackendConfig, key []byte, logger *slog.Logger) *BrowserSessions {
	anonymous := client.New(client.NewSession(client.NewMemoryStorage(), client.WithLogger(logger)), backend)
	return &BrowserSessions{
		store:     store,
		backend:   backend,
		key:       key,
		ttl:       cfg.Server.SessionTTL,
		secure:    cfg.Secure(),
		domain:    cfg.Server.CookieDomain,
		logger:    logger,
		now:       time.Now,
		anonymous: anonymous,
		clients:   make(map[string]*browserClient),
	}
}

// Lookup returns the client bound to r's browser session, if the cookie is
// present and its signature verifies.
func (b *BrowserSessions) Lookup(r *http.Request) (*client.Client, bool) {
	id, ok := b.idFromRequest(r)
	if !ok {
		return nil, false
	}
	return b.clientFor(id), true
}

// Resolve returns r's session client, or the shared anonymous client when r
// carries no valid session cookie.
func (b *BrowserSessions) Resolve(r *http.Request) *client.Client {
	if c, ok := b.Lookup(r); ok {
		return c
	}
	return b.anonymous
}

// Issue starts a new browser session and sets its cookie on w.
func (b *BrowserSessions) Issue(w http.ResponseWriter) (*client.Client, error) {
	id := ksuid.New().String()
	signed, err := jws.Sign([]byte(id), jws.WithKey(jwa.HS256, b.key))
	if err != nil {
		return nil, fmt.Errorf("sign browser session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     browserCookieName,
		Value:    string(signed),
		Path:     "/",
		Domain:   b.domain,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(b.ttl.Seconds()),
	})
	b.logger.Debug("browser session created", "browser_session", id)
	return b.clientFor(id), nil
}

// Rotate wipes the session r presents, if any, and issues a fresh one. A
// cookie planted before sign-in never ends up holding the new tokens.
func (b *BrowserSessions) Rotate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*client.Client, error) {
	if id, ok := b.idFromRequest(r); ok {
		if err := b.forget(ctx, id); err != nil {
			return nil, err
		}
		b.logger.Debug("browser session rotated", "browser_session", id)
	}
	return b.Issue(w)
}

// Drop wipes r's session, forgets it and expires the cookie.
func (b *BrowserSessions) Drop(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     browserCookieName,
		Value:    "",
		Path:     "/",
		Domain:   b.domain,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	id, ok := b.idFromRequest(r)
	if !ok {
		return nil
	}
	return b.forget(ctx, id)
}

func (b *BrowserSessions) forget(ctx context.Context, id string) error {
	if err := b.clientFor(id).Session().Clear(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
	return b.store.DropNamespace(ctx, namespaceFor(id))
}

// Len reports how many browser sessions are held in memory.
func (b *BrowserSessions) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *BrowserSessions) idFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(browserCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	payload, err := jws.Verify([]byte(cookie.Value), jws.WithKey(jwa.HS256, b.key))
	if err != nil {
		b.logger.Debug("browser session signature rejected", "error", err)
		return "", false
	}
	id, err := ksuid.Parse(string(payload))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func (b *BrowserSessions) clientFor(id string) *client.Client {
	now := b.now()
	b.mu.RLock()
	entry, ok := b.clients[id]
	b.mu.RUnlock()
	if ok {
		entry.lastUsed.Store(now.UnixNano())
		return entry.client
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.clients[id]; ok {
		entry.lastUsed.Store(now.UnixNano())
		return entry.client
	}
	b.evictIdle(now)
	sess := client.NewSession(b.store.Namespace(namespaceFor(id)), client.WithLogger(b.logger))
	entry = &browserClient{client: client.New(sess, b.backend)}
	entry.lastUsed.Store(now.UnixNano())
	b.clients[id] = entry
	return entry.client
}

// evictIdle drops cached clients unused for longer than the session TTL.
// Callers hold b.mu.
func (b *BrowserSessions) evictIdle(now time.Time) {
	if b.ttl <= 0 {
		return
	}
	cutoff := now.Add(-b.ttl).UnixNano()
	for id, entry := range b.clients {
		if entry.lastUsed.Load() < cutoff {
			delete(b.clients, id)
		}
	}
}

func namespaceFor(id string) string { return "browser:" + id }
