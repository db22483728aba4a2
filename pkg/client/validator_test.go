package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-rp/rpcore/pkg/crypto"
	"github.com/oidc-rp/rpcore/pkg/oidc"
)

type validatorFixture struct {
	client *Client
	key    *rsa.PrivateKey
}

func newValidatorFixture(t *testing.T, metaOpts ...MetadataOption) *validatorFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub := jose.JSONWebKey{Key: key.Public(), KeyID: "kid-1", Algorithm: "RS256", Use: "sig"}
	issuer := &oidc.StaticIssuer{
		Config: &oidc.DiscoveryConfiguration{Issuer: "https://issuer.example"},
		JWKS:   []jose.JSONWebKey{pub},
	}

	allOpts := append([]MetadataOption{
		WithRedirectURI("https://rp.example/cb"),
	}, metaOpts...)
	metadata, err := NewClientMetadata("client-1", allOpts...)
	require.NoError(t, err)
	c, err := NewClient(metadata, issuer, nil)
	require.NoError(t, err)
	return &validatorFixture{client: c, key: key}
}

func (f *validatorFixture) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	priv := jose.JSONWebKey{Key: f.key, KeyID: "kid-1", Algorithm: "RS256", Use: "sig"}
	signer, err := crypto.NewSigner(jose.RS256, priv)
	require.NoError(t, err)
	token, err := crypto.Sign(claims, signer)
	require.NoError(t, err)
	return token
}

func baseClaims() map[string]any {
	now := time.Now()
	return map[string]any{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"aud": "client-1",
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

// TestValidateIDToken exercises the eleven-step validator state machine
// across every rejection and acceptance path, mirroring the teacher's
// TestVerifyTokens table shape.
func TestValidateIDToken(t *testing.T) {
	atHash, err := crypto.ClaimHash("at-1", jose.RS256)
	require.NoError(t, err)

	tests := []struct {
		name       string
		metaOpts   []MetadataOption
		claims     func() map[string]any
		vctx       oidc.ValidationContext
		opts       ValidateOptions
		wantErr    bool
		wantSubj   string
	}{
		{
			name:   "happy path",
			claims: func() map[string]any { c := baseClaims(); c["nonce"] = "n-1"; return c },
			vctx:   oidc.ContextAuthorization,
			opts:   ValidateOptions{Nonce: strPtr("n-1")},
			wantSubj: "user-1",
		},
		{
			name:     "rejects expired",
			claims:   func() map[string]any { c := baseClaims(); c["exp"] = time.Now().Add(-time.Hour).Unix(); return c },
			vctx:     oidc.ContextToken,
			wantErr:  true,
		},
		{
			name:    "rejects missing required claim",
			claims:  func() map[string]any { c := baseClaims(); delete(c, "sub"); return c },
			vctx:    oidc.ContextToken,
			wantErr: true,
		},
		{
			name:    "rejects issuer mismatch",
			claims:  func() map[string]any { c := baseClaims(); c["iss"] = "https://evil.example"; return c },
			vctx:    oidc.ContextToken,
			wantErr: true,
		},
		{
			name:    "rejects audience mismatch",
			claims:  func() map[string]any { c := baseClaims(); c["aud"] = "someone-else"; return c },
			vctx:    oidc.ContextToken,
			wantErr: true,
		},
		{
			name:    "rejects multiple audiences without azp",
			claims:  func() map[string]any { c := baseClaims(); c["aud"] = []string{"client-1", "other-client"}; return c },
			vctx:    oidc.ContextToken,
			wantErr: true,
		},
		{
			name: "accepts multiple audiences with azp",
			claims: func() map[string]any {
				c := baseClaims()
				c["aud"] = []string{"client-1", "other-client"}
				c["azp"] = "client-1"
				return c
			},
			vctx:     oidc.ContextToken,
			wantSubj: "user-1",
		},
		{
			name:    "rejects nonce mismatch",
			claims:  func() map[string]any { c := baseClaims(); c["nonce"] = "n-1"; return c },
			vctx:    oidc.ContextAuthorization,
			opts:    ValidateOptions{Nonce: strPtr("n-2")},
			wantErr: true,
		},
		{
			name:    "requires at_hash in authorization context",
			claims:  baseClaims,
			vctx:    oidc.ContextAuthorization,
			opts:    ValidateOptions{AccessToken: "at-1"},
			wantErr: true,
		},
		{
			name:     "verifies at_hash",
			claims:   func() map[string]any { c := baseClaims(); c["at_hash"] = atHash; return c },
			vctx:     oidc.ContextAuthorization,
			opts:     ValidateOptions{AccessToken: "at-1"},
			wantSubj: "user-1",
		},
		{
			name:    "rejects at_hash mismatch",
			claims:  func() map[string]any { c := baseClaims(); c["at_hash"] = atHash; return c },
			vctx:    oidc.ContextAuthorization,
			opts:    ValidateOptions{AccessToken: "wrong-token"},
			wantErr: true,
		},
		{
			name:     "enforces max_age",
			metaOpts: nil,
			claims:   func() map[string]any { c := baseClaims(); c["auth_time"] = time.Now().Add(-time.Hour).Unix(); return c },
			vctx:     oidc.ContextToken,
			opts:     ValidateOptions{MaxAge: durPtr(5 * time.Minute)},
			wantErr:  true,
		},
		{
			name:     "rejects alg mismatch",
			metaOpts: []MetadataOption{WithIDTokenSignedResponseAlg("ES256")},
			claims:   baseClaims,
			vctx:     oidc.ContextToken,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newValidatorFixture(t, tt.metaOpts...)
			token := f.sign(t, tt.claims())
			got, err := f.client.ValidateIDToken(context.Background(), token, tt.vctx, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubj, got.GetSubject())
		})
	}
}

func TestValidateIDTokenFromTokenSet(t *testing.T) {
	f := newValidatorFixture(t)
	token := f.sign(t, baseClaims())
	got, err := f.client.ValidateIDToken(context.Background(), &TokenSet{IDToken: token}, oidc.ContextToken, ValidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.GetSubject())
}

func TestValidateIDTokenRejectsTamperedSignature(t *testing.T) {
	f := newValidatorFixture(t)
	token := f.sign(t, baseClaims())
	tampered := token[:len(token)-4] + "abcd"
	_, err := f.client.ValidateIDToken(context.Background(), tampered, oidc.ContextToken, ValidateOptions{})
	assert.ErrorIs(t, err, oidc.ErrInvalidSignature)
}

func TestValidateIDTokenRejectsMissingIDToken(t *testing.T) {
	f := newValidatorFixture(t)
	_, err := f.client.ValidateIDToken(context.Background(), "", oidc.ContextToken, ValidateOptions{})
	assert.ErrorIs(t, err, oidc.ErrMissingIDToken)
}

func strPtr(s string) *string       { return &s }
func durPtr(d time.Duration) *time.Duration { return &d }
