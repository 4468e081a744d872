package server

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

func TestRelayTicketRoundTrip(t *testing.T) {
	tokens := client.ProviderTokens{AccessToken: "ya29", IDToken: "eyJ.id.token", ExpiresIn: 3599, TokenType: "Bearer"}
	raw, err := newRelayTicket(tokens).encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ticket, err := decodeRelayTicket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ticket.ID == "" || *ticket.Tokens != tokens {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestDecodeRelayTicketErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "bad_escape", raw: "%zz", want: client.ErrNoTokenFound},
		{name: "not_json", raw: "hello", want: client.ErrNoTokenFound},
		{name: "no_id", raw: url.QueryEscape(`{"tokens":{"idToken":"x"}}`), want: client.ErrNoTokenFound},
		{name: "no_tokens", raw: url.QueryEscape(`{"id":"t1"}`), want: client.ErrInvalidToken},
		{name: "empty_tokens", raw: url.QueryEscape(`{"id":"t1","tokens":{"refreshToken":"r"}}`), want: client.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeRelayTicket(tt.raw); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRelayLedgerConsumesOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newRelayLedger(time.Minute)
	ledger.now = func() time.Time { return now }

	if !ledger.consume("t1") {
		t.Fatalf("first consume must succeed")
	}
	if ledger.consume("t1") {
		t.Fatalf("second consume must fail")
	}
	if !ledger.consume("t2") {
		t.Fatalf("other tickets are unaffected")
	}

	now = now.Add(2 * time.Minute)
	ledger.consume("t3")
	if _, ok := ledger.consumed["t1"]; ok {
		t.Fatalf("expired entries should be pruned")
	}
}
