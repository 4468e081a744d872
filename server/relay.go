package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

const (
	verifierCookieName = "oauth_code_verifier"
	stateCookieName    = "oauth_state"
	resultCookieName   = "oauth_result"
)

// relayTicket carries the provider token set from the callback to the
// completion step. It is readable by the user agent and lives briefly.
type relayTicket struct {
	ID     string                 `json:"id"`
	Tokens *client.ProviderTokens `json:"tokens"`
}

func newRelayTicket(tokens client.ProviderTokens) relayTicket {
	return relayTicket{ID: ksuid.New().String(), Tokens: &tokens}
}

func (t relayTicket) encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode relay ticket: %w", err)
	}
	return url.QueryEscape(string(b)), nil
}

func decodeRelayTicket(raw string) (relayTicket, error) {
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return relayTicket{}, fmt.Errorf("%w: %v", client.ErrNoTokenFound, err)
	}
	var t relayTicket
	if err := json.Unmarshal([]byte(unescaped), &t); err != nil {
		return relayTicket{}, fmt.Errorf("%w: %v", client.ErrNoTokenFound, err)
	}
	if t.ID == "" {
		return relayTicket{}, fmt.Errorf("%w: ticket has no id", client.ErrNoTokenFound)
	}
	if t.Tokens == nil || (t.Tokens.AccessToken == "" && t.Tokens.IDToken == "") {
		return relayTicket{}, client.ErrInvalidToken
	}
	return t, nil
}

// relayLedger remembers consumed ticket ids until they could no longer be
// presented, so a replayed cookie is treated as absent.
type relayLedger struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	consumed map[string]time.Time
}

func newRelayLedger(ttl time.Duration) *relayLedger {
	return &relayLedger{ttl: ttl, now: time.Now, consumed: make(map[string]time.Time)}
}

// consume marks id as used. It returns false if id was already consumed.
func (l *relayLedger) consume(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, exp := range l.consumed {
		if now.After(exp) {
			delete(l.consumed, k)
		}
	}
	if _, seen := l.consumed[id]; seen {
		return false
	}
	l.consumed[id] = now.Add(l.ttl)
	return true
}

// takeTicket reads and consumes the relay ticket on r.
func (a *App) takeTicket(r *http.Request) (client.ProviderTokens, error) {
	cookie, err := r.Cookie(resultCookieName)
	if err != nil || cookie.Value == "" {
		return client.ProviderTokens{}, client.ErrNoTokenFound
	}
	ticket, err := decodeRelayTicket(cookie.Value)
	if err != nil {
		return client.ProviderTokens{}, err
	}
	if !a.Relay.consume(ticket.ID) {
		a.Logger.Warn("auth.complete ticket replayed", "ticket", ticket.ID)
		return client.ProviderTokens{}, fmt.Errorf("%w: ticket already consumed", client.ErrNoTokenFound)
	}
	return *ticket.Tokens, nil
}

func (a *App) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: httpOnly,
		Secure:   a.Config.Secure(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func (a *App) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: httpOnly,
		Secure:   a.Config.Secure(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
