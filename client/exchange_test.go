package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newIdentityBackend(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/google" {
			http.NotFound(w, r)
			return
		}
		var in struct {
			IDToken string `json:"idToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		received = in.IDToken
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestExchangeCommitsBackendTokens(t *testing.T) {
	srv, received := newIdentityBackend(t, http.StatusOK,
		`{"success":true,"data":{"accessToken":"b-access","refreshToken":"b-refresh","expiresIn":900,"user":{"id":"u1","email":"admin@example.com","name":"Admin","role":"admin"}}}`)
	ctx := context.Background()
	clock := newFakeClock()
	sess := newTestSession(NewMemoryStorage(), clock)

	user, err := NewExchanger(sess, backendConfig(srv.URL)).Exchange(ctx, ProviderTokens{
		AccessToken:  "p-access",
		RefreshToken: "p-refresh",
		ExpiresIn:    3599,
		IDToken:      "id-token",
	})
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}
	if *received != "id-token" {
		t.Fatalf("backend received id token %q", *received)
	}
	if user == nil || user.Email != "admin@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if sess.AccessToken(ctx) != "b-access" || sess.RefreshToken(ctx) != "b-refresh" {
		t.Fatalf("backend tokens not stored")
	}
	if want := clock.Now().Add(900 * time.Second); !sess.ExpiryAt(ctx).Equal(want) {
		t.Fatalf("expiry got %v want %v", sess.ExpiryAt(ctx), want)
	}
	if got := sess.User(ctx); got == nil || got.Role != "admin" {
		t.Fatalf("user not cached: %+v", got)
	}
}

func TestExchangeFallsBackToProviderValues(t *testing.T) {
	srv, _ := newIdentityBackend(t, http.StatusOK, `{"success":true,"data":{"accessToken":"b-access"}}`)
	ctx := context.Background()
	clock := newFakeClock()
	sess := newTestSession(NewMemoryStorage(), clock)

	user, err := NewExchanger(sess, backendConfig(srv.URL)).Exchange(ctx, ProviderTokens{
		AccessToken:  "p-access",
		RefreshToken: "p-refresh",
		ExpiresIn:    1800,
		IDToken:      "id-token",
	})
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected no user, got %+v", user)
	}
	if got := sess.RefreshToken(ctx); got != "p-refresh" {
		t.Fatalf("refresh token got %q want provider value", got)
	}
	if want := clock.Now().Add(1800 * time.Second); !sess.ExpiryAt(ctx).Equal(want) {
		t.Fatalf("expiry got %v want provider lifetime", sess.ExpiryAt(ctx))
	}
}

func TestExchangeFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"backend rejects", http.StatusUnauthorized, `{"message":"bad id token"}`, ErrBackendExchangeFailed},
		{"backend error", http.StatusBadGateway, `upstream`, ErrBackendExchangeFailed},
		{"success false", http.StatusOK, `{"success":false,"data":{"accessToken":"x"}}`, ErrInvalidBackendResponse},
		{"missing data", http.StatusOK, `{"success":true}`, ErrInvalidBackendResponse},
		{"missing access token", http.StatusOK, `{"success":true,"data":{"refreshToken":"r"}}`, ErrInvalidBackendResponse},
		{"not json", http.StatusOK, `<html>`, ErrInvalidBackendResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newIdentityBackend(t, tc.status, tc.body)
			ctx := context.Background()
			storage := NewMemoryStorage()
			sess := newTestSession(storage, newFakeClock())

			_, err := NewExchanger(sess, backendConfig(srv.URL)).Exchange(ctx, ProviderTokens{AccessToken: "p", IDToken: "id"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if storage.Len() != 0 {
				t.Fatalf("failed exchange must not touch the session")
			}
		})
	}
}

func TestExchangeRejectsEmptyTokenSet(t *testing.T) {
	sess := newTestSession(NewMemoryStorage(), newFakeClock())
	_, err := NewExchanger(sess, backendConfig("http://127.0.0.1:0")).Exchange(context.Background(), ProviderTokens{})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
