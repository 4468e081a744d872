package server

import (
	"errors"
	"fmt"
	"net/http"
)

// FlowErrorKind classifies authorization flow failures.
type FlowErrorKind string

const (
	KindMissingParameter    FlowErrorKind = "MissingParameter"
	KindStateMismatch       FlowErrorKind = "StateMismatch"
	KindTokenExchangeFailed FlowErrorKind = "TokenExchangeFailed"
	KindCallbackError       FlowErrorKind = "CallbackError"
)

// FlowError is rendered to the user agent as a plain-text error page.
type FlowError struct {
	Kind   FlowErrorKind
	Status int
	Detail string
	Err    error
}

func (e *FlowError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return string(e.Kind)
}

func (e *FlowError) Unwrap() error { return e.Err }

func missingParameter() *FlowError {
	return &FlowError{Kind: KindMissingParameter, Status: http.StatusBadRequest, Detail: "Missing code or state"}
}

func stateMismatch() *FlowError {
	return &FlowError{Kind: KindStateMismatch, Status: http.StatusBadRequest, Detail: "Invalid state"}
}

func tokenExchangeFailed(body string, err error) *FlowError {
	return &FlowError{
		Kind:   KindTokenExchangeFailed,
		Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("Token exchange failed: %s", body),
		Err:    err,
	}
}

func callbackError(err error) *FlowError {
	return &FlowError{Kind: KindCallbackError, Status: http.StatusInternalServerError, Detail: "OAuth callback error", Err: err}
}

// writeFlowError answers with the error's status; anything that is not a
// FlowError is reported as a callback failure.
func writeFlowError(w http.ResponseWriter, err error) {
	var fe *FlowError
	if !errors.As(err, &fe) {
		fe = callbackError(err)
	}
	http.Error(w, fe.Detail, fe.Status)
}
