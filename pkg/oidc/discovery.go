package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	jose "github.com/go-jose/go-jose/v4"
)

// WellKnownPath is appended to an issuer URL to locate its discovery
// document, per RFC 8414 / OIDC Discovery 1.0.
const WellKnownPath = "/.well-known/openid-configuration"

// DiscoveryConfiguration is the subset of an AS's discovery document this
// core needs. Full discovery and JWKS fetching are external collaborators
// (spec.md §1); this type exists so a concrete Issuer can be constructed
// from a discovery response or from test fixtures.
type DiscoveryConfiguration struct {
	Issuer                       string       `json:"issuer"`
	AuthorizationEndpoint        string       `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                string       `json:"token_endpoint,omitempty"`
	UserinfoEndpoint             string       `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint           string       `json:"end_session_endpoint,omitempty"`
	DeviceAuthorizationEndpoint  string       `json:"device_authorization_endpoint,omitempty"`
	IntrospectionEndpoint        string       `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint           string       `json:"revocation_endpoint,omitempty"`
	RegistrationEndpoint         string       `json:"registration_endpoint,omitempty"`
	PushedAuthorizationEndpoint  string       `json:"pushed_authorization_request_endpoint,omitempty"`
	JwksURI                      string       `json:"jwks_uri,omitempty"`
	ScopesSupported              []string     `json:"scopes_supported,omitempty"`
	ResponseTypesSupported       []string     `json:"response_types_supported,omitempty"`
	GrantTypesSupported          []GrantType  `json:"grant_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []AuthMethod `json:"token_endpoint_auth_methods_supported,omitempty"`
	TokenEndpointAuthSigningAlgValuesSupported []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	MTLSEndpointAliases          map[string]string `json:"mtls_endpoint_aliases,omitempty"`
	ClaimsLocalesSupported       Locales      `json:"claims_locales_supported,omitempty"`
	UILocalesSupported           Locales      `json:"ui_locales_supported,omitempty"`
}

// Issuer is the external AS-metadata collaborator the core depends on
// (spec.md §1, §3). Metadata discovery and JWKS fetching proper are out of
// scope; this interface is the seam the Flow Orchestrator and ID Token
// Validator are written against.
type Issuer interface {
	// Issuer returns the exact `iss` string this AS is expected to assert.
	Issuer() string
	// Endpoint returns the URL registered for the named endpoint (e.g.
	// "token", "authorization", "userinfo", "device_authorization",
	// "introspection", "revocation", "registration", "end_session",
	// "pushed_authorization_request"), or "" if unknown.
	Endpoint(name string) string
	// Key returns the best JWK match for the given JWS/JWE header,
	// matching by kid, alg, use, and kty (spec.md §3).
	Key(ctx context.Context, header jose.Header) (*jose.JSONWebKey, error)
	// MTLSEndpointAliases returns the `mtls_endpoint_aliases` table.
	MTLSEndpointAliases() map[string]string
	// SupportedSigningAlgs returns the signing algorithms the AS
	// advertises for id_token / token_endpoint_auth / etc.
	SupportedSigningAlgs(kind string) []string
	// SupportedAuthMethods returns the client authentication methods the
	// AS advertises for the named endpoint (currently only "token" is
	// populated from discovery), used to reconcile the client's
	// configured token_endpoint_auth_method (spec.md §3).
	SupportedAuthMethods(endpoint string) []AuthMethod
}

// StaticIssuer is a minimal, directly constructible Issuer backed by a
// DiscoveryConfiguration and an in-memory JWKS. It is the concrete type
// the flow orchestrator and its tests exercise; production callers
// typically supply their own Issuer backed by a caching discovery client.
type StaticIssuer struct {
	Config *DiscoveryConfiguration
	JWKS   []jose.JSONWebKey
}

func (s *StaticIssuer) Issuer() string { return s.Config.Issuer }

func (s *StaticIssuer) Endpoint(name string) string {
	switch name {
	case "authorization":
		return s.Config.AuthorizationEndpoint
	case "token":
		return s.Config.TokenEndpoint
	case "userinfo":
		return s.Config.UserinfoEndpoint
	case "end_session":
		return s.Config.EndSessionEndpoint
	case "device_authorization":
		return s.Config.DeviceAuthorizationEndpoint
	case "introspection":
		return s.Config.IntrospectionEndpoint
	case "revocation":
		return s.Config.RevocationEndpoint
	case "registration":
		return s.Config.RegistrationEndpoint
	case "pushed_authorization_request":
		return s.Config.PushedAuthorizationEndpoint
	case "jwks":
		return s.Config.JwksURI
	default:
		return ""
	}
}

func (s *StaticIssuer) MTLSEndpointAliases() map[string]string {
	return s.Config.MTLSEndpointAliases
}

func (s *StaticIssuer) SupportedSigningAlgs(kind string) []string {
	if kind == "id_token" {
		return s.Config.IDTokenSigningAlgValuesSupported
	}
	if kind == "token_endpoint_auth" {
		return s.Config.TokenEndpointAuthSigningAlgValuesSupported
	}
	return nil
}

func (s *StaticIssuer) SupportedAuthMethods(endpoint string) []AuthMethod {
	if endpoint == "token" {
		return s.Config.TokenEndpointAuthMethodsSupported
	}
	return nil
}

// Key implements the `issuer.key(header) -> Key` lookup of spec.md §3 by
// matching `kid`, then falling back to a unique `alg`/`use` match. The
// expected `use` is inferred from header.Algorithm: key-management algs
// (RSA*/ECDH*, used to encrypt a request object) look for "enc", anything
// else looks for "sig".
func (s *StaticIssuer) Key(_ context.Context, header jose.Header) (*jose.JSONWebKey, error) {
	wantUse := "sig"
	if strings.HasPrefix(string(header.Algorithm), "RSA") || strings.HasPrefix(string(header.Algorithm), "ECDH") {
		wantUse = "enc"
	}
	var candidates []jose.JSONWebKey
	for _, k := range s.JWKS {
		if header.KeyID != "" && k.KeyID == header.KeyID {
			kk := k
			return &kk, nil
		}
		if k.Use != "" && k.Use != wantUse {
			continue
		}
		if header.Algorithm != "" && k.Algorithm != "" && k.Algorithm != header.Algorithm {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 1 {
		return &candidates[0], nil
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("oidc: no matching key found for kid=%q alg=%q", header.KeyID, header.Algorithm)
	}
	return nil, fmt.Errorf("oidc: multiple matching keys found for kid=%q alg=%q", header.KeyID, header.Algorithm)
}

// IssuerRegistry is a global, append-only cache mapping `iss` to
// previously discovered Issuers, used for cross-issuer distributed and
// aggregated claim resolution (spec.md §3, §4.6). Entries are only ever
// added, never mutated, so concurrent lookups and insertions are safe.
type IssuerRegistry struct {
	mu    sync.RWMutex
	byIss map[string]Issuer
}

// DefaultIssuerRegistry is the process-wide registry used when callers
// don't supply their own.
var DefaultIssuerRegistry = NewIssuerRegistry()

func NewIssuerRegistry() *IssuerRegistry {
	return &IssuerRegistry{byIss: make(map[string]Issuer)}
}

func (r *IssuerRegistry) Get(iss string) (Issuer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byIss[iss]
	return i, ok
}

func (r *IssuerRegistry) Set(iss string, issuer Issuer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byIss[iss]; !exists {
		r.byIss[iss] = issuer
	}
}

// Discover fetches iss's discovery document and constructs a StaticIssuer
// for it, caching the result in the registry. Actual JWKS fetching is left
// to the caller-supplied httpClient's transport; this is the thin glue
// spec.md §1 calls out as an external collaborator, reduced to what the
// distributed-claims flow needs to resolve an unknown issuer at runtime.
func (r *IssuerRegistry) Discover(ctx context.Context, iss string, httpClient *http.Client) (Issuer, error) {
	if cached, ok := r.Get(iss); ok {
		return cached, nil
	}
	wellKnown := strings.TrimSuffix(iss, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc: discovery request to %s failed with status %d", wellKnown, resp.StatusCode)
	}
	var config DiscoveryConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return nil, fmt.Errorf("oidc: failed to decode discovery document: %w", err)
	}
	if config.Issuer != iss {
		return nil, fmt.Errorf("oidc: discovered issuer %q does not match requested %q", config.Issuer, iss)
	}
	keys, err := fetchJWKS(ctx, config.JwksURI, httpClient)
	if err != nil {
		return nil, err
	}
	issuer := &StaticIssuer{Config: &config, JWKS: keys}
	r.Set(iss, issuer)
	return issuer, nil
}

// fetchJWKS fetches and decodes jwksURI, so an Issuer discovered on demand
// (e.g. to verify a distributed/aggregated claims JWT from an issuer never
// seen before) can immediately satisfy Key lookups rather than returning an
// always-empty key set.
func fetchJWKS(ctx context.Context, jwksURI string, httpClient *http.Client) ([]jose.JSONWebKey, error) {
	if jwksURI == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc: jwks request to %s failed with status %d", jwksURI, resp.StatusCode)
	}
	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("oidc: failed to decode jwks document: %w", err)
	}
	return jwks.Keys, nil
}
