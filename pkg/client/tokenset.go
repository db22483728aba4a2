package client

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// TokenSet is the caller-owned container for whatever the token endpoint
// returned (spec.md §3): the OAuth2 token plus the decoded ID Token
// claims, when present. It embeds *oauth2.Token so the access/refresh
// token and expiry are available without duplicating fields, and keeps
// implementation-defined extras in Token.Extra.
type TokenSet struct {
	*oauth2.Token

	IDToken       string
	idTokenClaims oidc.Claims

	SessionState string
}

// NewTokenSet wraps an oauth2.Token (as returned by the token endpoint)
// into a TokenSet, pulling the id_token extra field out if present.
func NewTokenSet(token *oauth2.Token) *TokenSet {
	ts := &TokenSet{Token: token}
	if idToken, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if sessionState, ok := token.Extra("session_state").(string); ok {
		ts.SessionState = sessionState
	}
	return ts
}

// Claims returns the decoded ID Token payload, or nil when there is no
// validated ID Token on this TokenSet.
func (t *TokenSet) Claims() oidc.Claims {
	return t.idTokenClaims
}

// WithClaims attaches validated ID Token claims, returning the receiver
// for chaining. The flow functions call this with the claims that
// ValidateIDToken returned.
func (t *TokenSet) WithClaims(claims oidc.Claims) *TokenSet {
	t.idTokenClaims = claims
	return t
}

// ExpiresAt returns the access token's expiry as the `expires_in`
// semantics implies, falling back to the zero Time when unknown.
func (t *TokenSet) ExpiresAt() time.Time {
	if t.Token == nil {
		return time.Time{}
	}
	return t.Token.Expiry
}
