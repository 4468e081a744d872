package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoTokenFound means the one-time login ticket was absent, unreadable or already consumed.
	ErrNoTokenFound = errors.New("no login token found")
	// ErrInvalidToken means the login ticket parsed but carried no token set.
	ErrInvalidToken = errors.New("login token is malformed")
	// ErrBackendExchangeFailed means the backend rejected the identity token.
	ErrBackendExchangeFailed = errors.New("backend token exchange failed")
	// ErrInvalidBackendResponse means a backend reply did not carry the expected fields.
	ErrInvalidBackendResponse = errors.New("invalid backend response")
	// ErrAuthenticationRequired is terminal for the current flow: the session
	// has been cleared and the user must sign in again.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrAccessDenied reports a 403. The session is left untouched.
	ErrAccessDenied = errors.New("access denied")
)

// HTTPError is a non-2xx reply from the REST backend.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, http.StatusText(e.Status))
}

// Is lets errors.Is(err, ErrAccessDenied) match 403 replies.
func (e *HTTPError) Is(target error) bool {
	return target == ErrAccessDenied && e.Status == http.StatusForbidden
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// LoginReason maps a completion failure to the reason code shown on the login page.
func LoginReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoTokenFound):
		return "no_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrBackendExchangeFailed):
		return "backend_fail"
	case errors.Is(err, ErrInvalidBackendResponse):
		return "invalid_response"
	default:
		return "unexpected"
	}
}
