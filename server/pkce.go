package server

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/oauth2"
)

const (
	pkceAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
	verifierLength  = 64
	stateLength     = 32
	challengeMethod = "S256"
)

// PKCEChallenge is one authorization attempt's proof key and CSRF state.
type PKCEChallenge struct {
	Verifier  string
	Challenge string
	State     string
}

// randomSource is swapped in tests.
var randomSource io.Reader = rand.Reader

// GeneratePKCE draws a fresh verifier and state from a secure random source.
func GeneratePKCE() (PKCEChallenge, error) {
	verifier, err := randomString(verifierLength)
	if err != nil {
		return PKCEChallenge{}, fmt.Errorf("generate code verifier: %w", err)
	}
	state, err := randomString(stateLength)
	if err != nil {
		return PKCEChallenge{}, fmt.Errorf("generate state: %w", err)
	}
	return PKCEChallenge{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     state,
	}, nil
}

func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(pkceAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(randomSource, limit)
		if err != nil {
			return "", err
		}
		out[i] = pkceAlphabet[idx.Int64()]
	}
	return string(out), nil
}
