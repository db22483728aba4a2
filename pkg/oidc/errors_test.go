package oidc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestASErrorIsMatchesByErrorType(t *testing.T) {
	a := &ASError{ErrorType: ErrorInvalidGrant, Description: "expired code"}
	b := &ASError{ErrorType: ErrorInvalidGrant, Description: "different description"}
	assert.True(t, errors.Is(a, b))

	c := &ASError{ErrorType: ErrorInvalidClient}
	assert.False(t, errors.Is(a, c))
}

func TestASErrorUnwrap(t *testing.T) {
	parent := errors.New("transport failed")
	err := (&ASError{ErrorType: "server_error"}).WithParent(parent)
	assert.Equal(t, parent, errors.Unwrap(err))
}

func TestDefaultToASErrorPassesThroughExisting(t *testing.T) {
	original := &ASError{ErrorType: ErrorInvalidRequest}
	wrapped := DefaultToASError(original, "ignored")
	assert.Same(t, original, wrapped)
}

func TestDefaultToASErrorWrapsArbitraryError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := DefaultToASError(plain, "request failed")
	assert.Equal(t, "server_error", wrapped.ErrorType)
	assert.Equal(t, "request failed", wrapped.Description)
	assert.Equal(t, plain, wrapped.Parent)
}

func TestRPErrorIsMatchesByMessage(t *testing.T) {
	a := NewRPError("validator: iss mismatch")
	b := NewRPError("validator: iss mismatch")
	assert.True(t, errors.Is(a, b))

	c := NewRPError("validator: something else")
	assert.False(t, errors.Is(a, c))
}

func TestNewInvalidSignatureErrorMatchesSentinel(t *testing.T) {
	parent := errors.New("key mismatch")
	err := NewInvalidSignatureError(parent)
	require.True(t, errors.Is(err, ErrInvalidSignature))
	assert.NotSame(t, ErrInvalidSignature, err)
	assert.Equal(t, parent, errors.Unwrap(err))
	// The shared sentinel itself is never mutated by constructing copies.
	assert.Nil(t, ErrInvalidSignature.Parent)
}

func TestNewInvalidSignatureErrorConcurrentCallsDoNotRace(t *testing.T) {
	done := make(chan *RPError, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			done <- NewInvalidSignatureError(errors.New("diagnostic"))
		}(i)
	}
	for i := 0; i < 50; i++ {
		err := <-done
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	}
	assert.Nil(t, ErrInvalidSignature.Parent)
}
