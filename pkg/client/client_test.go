package client

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

func TestNewClientRequiresMetadataAndIssuer(t *testing.T) {
	metadata, err := NewClientMetadata("client-1")
	require.NoError(t, err)
	issuer := &oidc.StaticIssuer{Config: &oidc.DiscoveryConfiguration{Issuer: "https://issuer.example"}}

	_, err = NewClient(nil, issuer, nil)
	assert.Error(t, err)

	_, err = NewClient(metadata, nil, nil)
	assert.Error(t, err)

	c, err := NewClient(metadata, issuer, nil)
	require.NoError(t, err)
	assert.Same(t, http.DefaultClient, c.HTTPClient)
}

func TestNewClientReconcilesAuthMethodFromIssuer(t *testing.T) {
	metadata, err := NewClientMetadata("client-1", WithTokenEndpointAuthMethod(oidc.AuthMethodPrivateKeyJWT))
	require.NoError(t, err)
	issuer := &oidc.StaticIssuer{Config: &oidc.DiscoveryConfiguration{
		Issuer:                            "https://issuer.example",
		TokenEndpointAuthMethodsSupported: []oidc.AuthMethod{oidc.AuthMethodBasic, oidc.AuthMethodPost},
	}}
	c, err := NewClient(metadata, issuer, nil)
	require.NoError(t, err)
	assert.Equal(t, oidc.AuthMethodPost, c.Metadata.TokenEndpointAuthMethod)
}

func TestPrivateKeyForAlg(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name    string
		jwk     jose.JSONWebKey
		alg     string
		wantErr bool
	}{
		{
			name: "matches by exact alg",
			jwk:  jose.JSONWebKey{Key: key, KeyID: "kid-1", Algorithm: "PS256", Use: "sig"},
			alg:  "PS256",
		},
		{
			name: "falls back to the key family when alg is unset",
			jwk:  jose.JSONWebKey{Key: key, KeyID: "kid-1", Use: "sig"},
			alg:  "RS256",
		},
		{
			name:    "errors when nothing matches",
			jwk:     jose.JSONWebKey{},
			alg:     "RS256",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []MetadataOption
			if tt.jwk.Key != nil {
				opts = append(opts, WithJWKS(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{tt.jwk}}))
			}
			metadata, err := NewClientMetadata("client-1", opts...)
			require.NoError(t, err)
			issuer := &oidc.StaticIssuer{Config: &oidc.DiscoveryConfiguration{Issuer: "https://issuer.example"}}
			c, err := NewClient(metadata, issuer, nil)
			require.NoError(t, err)

			found, err := c.privateKeyForAlg(tt.alg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "kid-1", found.KeyID)
		})
	}
}

func TestSignerForAlgMemoizes(t *testing.T) {
	metadata, err := NewClientMetadata("client-1", WithClientSecret("s3cr3t"))
	require.NoError(t, err)
	issuer := &oidc.StaticIssuer{Config: &oidc.DiscoveryConfiguration{Issuer: "https://issuer.example"}}
	c, err := NewClient(metadata, issuer, nil)
	require.NoError(t, err)

	s1, err := c.signerForAlg(jose.HS256)
	require.NoError(t, err)
	s2, err := c.signerForAlg(jose.HS256)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestSignerForAlgHSRequiresClientSecret(t *testing.T) {
	metadata, err := NewClientMetadata("client-1")
	require.NoError(t, err)
	issuer := &oidc.StaticIssuer{Config: &oidc.DiscoveryConfiguration{Issuer: "https://issuer.example"}}
	c, err := NewClient(metadata, issuer, nil)
	require.NoError(t, err)

	_, err = c.signerForAlg(jose.HS256)
	assert.Error(t, err)
}
