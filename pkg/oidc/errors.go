package oidc

import (
	"errors"
	"fmt"
)

// ASError is the first error family from spec.md §7: an error the
// Authorization Server itself returned, either as an OAuth-style JSON
// error object or inferred from an HTTP failure.
type ASError struct {
	ErrorType        string `json:"error"`
	Description      string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	State            string `json:"state,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
	Parent           error  `json:"-"`
}

func (e *ASError) Error() string {
	msg := "as error: " + e.ErrorType
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Parent != nil {
		msg += " (" + e.Parent.Error() + ")"
	}
	return msg
}

func (e *ASError) Unwrap() error {
	return e.Parent
}

func (e *ASError) Is(target error) bool {
	t, ok := target.(*ASError)
	if !ok {
		return false
	}
	return e.ErrorType == t.ErrorType
}

func (e *ASError) WithParent(err error) *ASError {
	e.Parent = err
	return e
}

// DefaultToASError wraps any error into an *ASError (ErrorType
// "server_error") unless it already is one, so AS-origin failures are
// always a single consistent type for callers to errors.As against.
func DefaultToASError(err error, description string) *ASError {
	var asErr *ASError
	if errors.As(err, &asErr) {
		return asErr
	}
	return &ASError{ErrorType: "server_error", Description: description, Parent: err}
}

// Well-known AS error codes used by the device flow and elsewhere.
const (
	ErrorAuthorizationPending = "authorization_pending"
	ErrorSlowDown             = "slow_down"
	ErrorAccessDenied         = "access_denied"
	ErrorExpiredToken         = "expired_token"
	ErrorInvalidGrant         = "invalid_grant"
	ErrorInvalidRequest       = "invalid_request"
	ErrorInvalidClient        = "invalid_client"
)

// RPError is the second error family from spec.md §7: a locally-detected
// protocol or configuration violation. It never carries secrets; Checks,
// Params, Body, and Response are free-form contextual payloads useful for
// diagnostics.
type RPError struct {
	Message  string
	Checks   any
	Params   any
	Body     any
	Response any
	Parent   error
}

func (e *RPError) Error() string {
	if e.Parent != nil {
		return e.Message + ": " + e.Parent.Error()
	}
	return e.Message
}

func (e *RPError) Unwrap() error {
	return e.Parent
}

// Is reports two RPErrors equal for errors.Is purposes if their messages
// match, so a freshly parented copy still compares equal to its sentinel
// (e.g. NewInvalidSignatureError(...) against ErrInvalidSignature).
func (e *RPError) Is(target error) bool {
	t, ok := target.(*RPError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// NewRPError builds an *RPError from a printf-style template, mirroring
// the source library's practice of raising assertion errors with inline
// formatted context.
func NewRPError(format string, args ...any) *RPError {
	return &RPError{Message: fmt.Sprintf(format, args...)}
}

func (e *RPError) WithParent(err error) *RPError {
	e.Parent = err
	return e
}

// ErrInvalidSignature is the single, deliberately generic error returned
// for every ID Token / JWT signature verification failure, regardless of
// the underlying JOSE diagnostic. This avoids giving callers an oracle
// into why a signature didn't verify. It is a sentinel for errors.Is
// comparisons; callers needing a parent-annotated copy must go through
// NewInvalidSignatureError instead of mutating this value.
var ErrInvalidSignature = &RPError{Message: "failed to validate JWT signature"}

// NewInvalidSignatureError returns a fresh copy of ErrInvalidSignature
// carrying parent as context. Concurrent signature failures must never
// mutate the shared ErrInvalidSignature singleton through WithParent.
func NewInvalidSignatureError(parent error) *RPError {
	return &RPError{Message: ErrInvalidSignature.Message, Parent: parent}
}

// ErrMissingIDToken is returned when an id_token was expected in a token
// or TokenSet but was not present.
var ErrMissingIDToken = NewRPError("id_token missing")

// ErrUserinfoSubMismatch is returned by Userinfo when the subject returned
// by the userinfo endpoint does not match the ID Token's subject.
var ErrUserinfoSubMismatch = NewRPError("userinfo sub mismatch")
