package client

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// ClientMetadata is the immutable-after-construction record of client
// configuration described in spec.md §3. It is built once via
// NewClientMetadata and never mutated afterwards; concurrent flow calls
// share it freely.
type ClientMetadata struct {
	ClientID     string
	ClientSecret string

	ResponseTypes []string
	RedirectURIs  []string
	GrantTypes    []string

	TokenEndpointAuthMethod        oidc.AuthMethod
	TokenEndpointAuthSigningAlg    string
	IntrospectionEndpointAuthMethod     oidc.AuthMethod
	IntrospectionEndpointAuthSigningAlg string
	RevocationEndpointAuthMethod        oidc.AuthMethod
	RevocationEndpointAuthSigningAlg    string

	IDTokenSignedResponseAlg    string
	IDTokenEncryptedResponseAlg string
	IDTokenEncryptedResponseEnc string

	UserinfoSignedResponseAlg    string
	UserinfoEncryptedResponseAlg string
	UserinfoEncryptedResponseEnc string

	RequestObjectSigningAlg    string
	RequestObjectEncryptionAlg string
	RequestObjectEncryptionEnc string

	DefaultMaxAge    time.Duration // 0 means unset
	RequireAuthTime  bool

	TLSClientCertificateBoundAccessTokens bool
	PostLogoutRedirectURIs                []string

	ClockTolerance time.Duration

	// AADIssuerTemplate, when non-empty, is the client's configured
	// issuer containing a literal "{tenantid}" placeholder for AAD
	// multi-tenant validation (spec.md §4.4 step 5).
	AADIssuerTemplate string

	// JWKS holds the client's own private keys, used for
	// private_key_jwt authentication and for decrypting JWE responses
	// under RSA*/ECDH* algorithms. Loading rejects any public-only or
	// symmetric key (spec.md §3 invariant).
	JWKS jose.JSONWebKeySet
}

// MetadataOption configures a ClientMetadata under construction.
type MetadataOption func(*ClientMetadata) error

// NewClientMetadata builds an immutable ClientMetadata, applying defaults
// and reconciling the common input mistakes spec.md §3 calls out.
func NewClientMetadata(clientID string, opts ...MetadataOption) (*ClientMetadata, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client: client_id is required")
	}
	m := &ClientMetadata{
		ClientID:                    clientID,
		ResponseTypes:               []string{"code"},
		TokenEndpointAuthMethod:     oidc.AuthMethodBasic,
		IDTokenSignedResponseAlg:    "RS256",
		RequestObjectSigningAlg:     "none",
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.IntrospectionEndpointAuthMethod == "" {
		m.IntrospectionEndpointAuthMethod = m.TokenEndpointAuthMethod
	}
	if m.IntrospectionEndpointAuthSigningAlg == "" {
		m.IntrospectionEndpointAuthSigningAlg = m.TokenEndpointAuthSigningAlg
	}
	if m.RevocationEndpointAuthMethod == "" {
		m.RevocationEndpointAuthMethod = m.TokenEndpointAuthMethod
	}
	if m.RevocationEndpointAuthSigningAlg == "" {
		m.RevocationEndpointAuthSigningAlg = m.TokenEndpointAuthSigningAlg
	}
	if m.IDTokenEncryptedResponseAlg != "" && m.IDTokenEncryptedResponseEnc == "" {
		m.IDTokenEncryptedResponseEnc = "A128CBC-HS256"
	}
	if m.UserinfoEncryptedResponseAlg != "" && m.UserinfoEncryptedResponseEnc == "" {
		m.UserinfoEncryptedResponseEnc = "A128CBC-HS256"
	}
	if m.RequestObjectEncryptionAlg != "" && m.RequestObjectEncryptionEnc == "" {
		m.RequestObjectEncryptionEnc = "A128CBC-HS256"
	}
	for _, k := range m.JWKS.Keys {
		if k.IsPublic() {
			return nil, fmt.Errorf("client: jwks must contain only private keys, found public key %q", k.KeyID)
		}
		if _, symmetric := k.Key.([]byte); symmetric {
			return nil, fmt.Errorf("client: jwks must not contain symmetric keys, found %q", k.KeyID)
		}
	}
	return m, nil
}

// WithClientSecret sets client_secret.
func WithClientSecret(secret string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.ClientSecret = secret
		return nil
	}
}

// WithRedirectURI and WithRedirectURIs tolerate the singular/plural input
// mistake spec.md §3 calls out, normalizing both to RedirectURIs.
func WithRedirectURI(uri string) MetadataOption {
	return WithRedirectURIs([]string{uri})
}

func WithRedirectURIs(uris []string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.RedirectURIs = append(m.RedirectURIs, uris...)
		return nil
	}
}

func WithResponseType(rt string) MetadataOption {
	return WithResponseTypes([]string{rt})
}

func WithResponseTypes(rts []string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.ResponseTypes = rts
		return nil
	}
}

func WithGrantTypes(gts []string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.GrantTypes = gts
		return nil
	}
}

func WithTokenEndpointAuthMethod(method oidc.AuthMethod) MetadataOption {
	return func(m *ClientMetadata) error {
		m.TokenEndpointAuthMethod = method
		return nil
	}
}

func WithTokenEndpointAuthSigningAlg(alg string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.TokenEndpointAuthSigningAlg = alg
		return nil
	}
}

func WithIntrospectionEndpointAuth(method oidc.AuthMethod, signingAlg string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.IntrospectionEndpointAuthMethod = method
		m.IntrospectionEndpointAuthSigningAlg = signingAlg
		return nil
	}
}

func WithRevocationEndpointAuth(method oidc.AuthMethod, signingAlg string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.RevocationEndpointAuthMethod = method
		m.RevocationEndpointAuthSigningAlg = signingAlg
		return nil
	}
}

func WithIDTokenSignedResponseAlg(alg string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.IDTokenSignedResponseAlg = alg
		return nil
	}
}

func WithIDTokenEncryption(alg, enc string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.IDTokenEncryptedResponseAlg = alg
		m.IDTokenEncryptedResponseEnc = enc
		return nil
	}
}

func WithUserinfoSignedResponseAlg(alg string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.UserinfoSignedResponseAlg = alg
		return nil
	}
}

func WithUserinfoEncryption(alg, enc string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.UserinfoEncryptedResponseAlg = alg
		m.UserinfoEncryptedResponseEnc = enc
		return nil
	}
}

func WithRequestObjectSigningAlg(alg string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.RequestObjectSigningAlg = alg
		return nil
	}
}

func WithRequestObjectEncryption(alg, enc string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.RequestObjectEncryptionAlg = alg
		m.RequestObjectEncryptionEnc = enc
		return nil
	}
}

func WithDefaultMaxAge(d time.Duration) MetadataOption {
	return func(m *ClientMetadata) error {
		m.DefaultMaxAge = d
		return nil
	}
}

func WithRequireAuthTime(require bool) MetadataOption {
	return func(m *ClientMetadata) error {
		m.RequireAuthTime = require
		return nil
	}
}

func WithTLSClientCertificateBoundAccessTokens() MetadataOption {
	return func(m *ClientMetadata) error {
		m.TLSClientCertificateBoundAccessTokens = true
		return nil
	}
}

func WithPostLogoutRedirectURIs(uris []string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.PostLogoutRedirectURIs = uris
		return nil
	}
}

func WithClockTolerance(d time.Duration) MetadataOption {
	return func(m *ClientMetadata) error {
		m.ClockTolerance = d
		return nil
	}
}

func WithAADIssuerTemplate(template string) MetadataOption {
	return func(m *ClientMetadata) error {
		m.AADIssuerTemplate = template
		return nil
	}
}

func WithJWKS(jwks jose.JSONWebKeySet) MetadataOption {
	return func(m *ClientMetadata) error {
		m.JWKS = jwks
		return nil
	}
}

// ReconcileAuthMethod implements the backward-compatibility fallback of
// spec.md §3: if the AS advertises token_endpoint_auth_methods_supported
// and the configured method is absent while client_secret_post is
// advertised, the effective method silently becomes client_secret_post.
func (m *ClientMetadata) ReconcileAuthMethod(supported []oidc.AuthMethod) oidc.AuthMethod {
	if len(supported) == 0 {
		return m.TokenEndpointAuthMethod
	}
	for _, s := range supported {
		if s == m.TokenEndpointAuthMethod {
			return m.TokenEndpointAuthMethod
		}
	}
	for _, s := range supported {
		if s == oidc.AuthMethodPost {
			return oidc.AuthMethodPost
		}
	}
	return m.TokenEndpointAuthMethod
}

// singleRedirectURI returns the client's one configured redirect_uri, or
// "" when zero or more than one are configured.
func (m *ClientMetadata) singleRedirectURI() string {
	if len(m.RedirectURIs) == 1 {
		return m.RedirectURIs[0]
	}
	return ""
}

func (m *ClientMetadata) singleResponseType() string {
	if len(m.ResponseTypes) == 1 {
		return m.ResponseTypes[0]
	}
	return ""
}

func (m *ClientMetadata) singlePostLogoutRedirectURI() string {
	if len(m.PostLogoutRedirectURIs) == 1 {
		return m.PostLogoutRedirectURIs[0]
	}
	return ""
}
