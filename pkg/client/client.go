// Package client implements the Relying Party core described in
// spec.md: parameter building, client authentication, response parsing,
// ID Token validation, and flow orchestration against an Authorization
// Server.
package client

import (
	"fmt"
	"net/http"
	"sync"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/oidc-rp/rpcore/internal/otel"
	"github.com/oidc-rp/rpcore/pkg/crypto"
	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// Tracer is the package-level tracer every suspension-point flow function
// starts a span on, mirroring the teacher's client.Tracer pattern so spans
// nest naturally under a caller's own instrumentation.
var Tracer = otel.Tracer("github.com/oidc-rp/rpcore/pkg/client")

// Client is the Relying Party handle: immutable metadata plus the mutable
// memoization caches spec.md §5 allows (derived keys, per-alg signers).
// A Client is safe for concurrent use; all request-level state lives on
// the call stack, never on the Client.
type Client struct {
	Metadata   *ClientMetadata
	Issuer     oidc.Issuer
	HTTPClient *http.Client
	IssuerRegistry *oidc.IssuerRegistry

	keyCache *crypto.KeyCache

	signerMu sync.Mutex
	signers  map[jose.SignatureAlgorithm]jose.Signer
}

// NewClient constructs a Client for the given metadata and issuer.
// httpClient defaults to http.DefaultClient when nil.
func NewClient(metadata *ClientMetadata, issuer oidc.Issuer, httpClient *http.Client) (*Client, error) {
	if metadata == nil {
		return nil, fmt.Errorf("client: metadata is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("client: issuer is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	effective := metadata.ReconcileAuthMethod(issuer.SupportedAuthMethods("token"))
	reconciled := *metadata
	reconciled.TokenEndpointAuthMethod = effective
	return &Client{
		Metadata:       &reconciled,
		Issuer:         issuer,
		HTTPClient:     httpClient,
		IssuerRegistry: oidc.DefaultIssuerRegistry,
		keyCache:       crypto.NewKeyCache(metadata.ClientSecret),
		signers:        make(map[jose.SignatureAlgorithm]jose.Signer),
	}, nil
}

// symmetricKey returns the memoized symmetric JWK derived from
// client_secret for the given enc/alg name (spec.md §4.5).
func (c *Client) symmetricKey(name string) (jose.JSONWebKey, error) {
	return c.keyCache.Get(name)
}

// privateKeyForAlg selects a private JWK from the client's keystore
// suitable for alg, used by private_key_jwt authentication and request
// object signing (spec.md §4.2).
func (c *Client) privateKeyForAlg(alg string) (*jose.JSONWebKey, error) {
	for _, k := range c.Metadata.JWKS.Keys {
		if k.Algorithm == alg {
			kk := k
			return &kk, nil
		}
	}
	// Fall back to matching by key family when no key advertises the
	// exact alg (many JWKS omit "alg" on purpose).
	for _, k := range c.Metadata.JWKS.Keys {
		if algFamilyMatches(k, alg) {
			kk := k
			return &kk, nil
		}
	}
	return nil, fmt.Errorf("client: no private key found in client keystore for alg %q", alg)
}

func algFamilyMatches(key jose.JSONWebKey, alg string) bool {
	if len(alg) == 0 {
		return false
	}
	switch alg[0] {
	case 'R', 'P':
		return key.Algorithm == "" && keyIsRSA(key)
	case 'E':
		return key.Algorithm == "" && keyIsEC(key)
	default:
		return false
	}
}

// signerForAlg returns a memoized jose.Signer for alg, backed by the
// client's keystore (asymmetric) or the derived symmetric key (HS*).
func (c *Client) signerForAlg(alg jose.SignatureAlgorithm) (jose.Signer, error) {
	c.signerMu.Lock()
	defer c.signerMu.Unlock()
	if s, ok := c.signers[alg]; ok {
		return s, nil
	}
	var key jose.JSONWebKey
	if len(alg) >= 2 && alg[:2] == "HS" {
		derived, err := c.symmetricKey(string(alg))
		if err != nil {
			return nil, err
		}
		key = derived
	} else {
		k, err := c.privateKeyForAlg(string(alg))
		if err != nil {
			return nil, err
		}
		key = *k
	}
	signer, err := crypto.NewSigner(alg, key)
	if err != nil {
		return nil, err
	}
	c.signers[alg] = signer
	return signer, nil
}
