package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// registrationResponse is the subset of RFC 7591's client registration
// response this core maps onto ClientMetadata (spec.md §4.8).
type registrationResponse struct {
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"client_secret"`
	RegistrationAccessToken string `json:"registration_access_token"`
	RegistrationClientURI string   `json:"registration_client_uri"`

	ResponseTypes []string `json:"response_types,omitempty"`
	RedirectURIs  []string `json:"redirect_uris,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty"`

	TokenEndpointAuthMethod     string `json:"token_endpoint_auth_method,omitempty"`
	TokenEndpointAuthSigningAlg string `json:"token_endpoint_auth_signing_alg,omitempty"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`

	UserinfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty"`
	UserinfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty"`
	UserinfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty"`

	DefaultMaxAge   int64 `json:"default_max_age,omitempty"`
	RequireAuthTime bool  `json:"require_auth_time,omitempty"`

	TLSClientCertificateBoundAccessTokens bool     `json:"tls_client_certificate_bound_access_tokens,omitempty"`
	PostLogoutRedirectURIs                []string `json:"post_logout_redirect_uris,omitempty"`
}

func (r *registrationResponse) toMetadata(jwks jose.JSONWebKeySet) (*ClientMetadata, error) {
	opts := []MetadataOption{
		WithClientSecret(r.ClientSecret),
	}
	if len(r.ResponseTypes) > 0 {
		opts = append(opts, WithResponseTypes(r.ResponseTypes))
	}
	if len(r.RedirectURIs) > 0 {
		opts = append(opts, WithRedirectURIs(r.RedirectURIs))
	}
	if len(r.GrantTypes) > 0 {
		opts = append(opts, WithGrantTypes(r.GrantTypes))
	}
	if r.TokenEndpointAuthMethod != "" {
		opts = append(opts, WithTokenEndpointAuthMethod(oidc.AuthMethod(r.TokenEndpointAuthMethod)))
	}
	if r.TokenEndpointAuthSigningAlg != "" {
		opts = append(opts, WithTokenEndpointAuthSigningAlg(r.TokenEndpointAuthSigningAlg))
	}
	if r.IDTokenSignedResponseAlg != "" {
		opts = append(opts, WithIDTokenSignedResponseAlg(r.IDTokenSignedResponseAlg))
	}
	if r.IDTokenEncryptedResponseAlg != "" {
		opts = append(opts, WithIDTokenEncryption(r.IDTokenEncryptedResponseAlg, r.IDTokenEncryptedResponseEnc))
	}
	if r.UserinfoSignedResponseAlg != "" {
		opts = append(opts, WithUserinfoSignedResponseAlg(r.UserinfoSignedResponseAlg))
	}
	if r.UserinfoEncryptedResponseAlg != "" {
		opts = append(opts, WithUserinfoEncryption(r.UserinfoEncryptedResponseAlg, r.UserinfoEncryptedResponseEnc))
	}
	if r.DefaultMaxAge > 0 {
		opts = append(opts, WithDefaultMaxAge(time.Duration(r.DefaultMaxAge)*time.Second))
	}
	if r.RequireAuthTime {
		opts = append(opts, WithRequireAuthTime(true))
	}
	if r.TLSClientCertificateBoundAccessTokens {
		opts = append(opts, WithTLSClientCertificateBoundAccessTokens())
	}
	if len(r.PostLogoutRedirectURIs) > 0 {
		opts = append(opts, WithPostLogoutRedirectURIs(r.PostLogoutRedirectURIs))
	}
	if len(jwks.Keys) > 0 {
		opts = append(opts, WithJWKS(jwks))
	}
	return NewClientMetadata(r.ClientID, opts...)
}

// Register performs RFC 7591 dynamic client registration: POSTs
// properties to registration_endpoint (with an optional Bearer
// initialAccessToken), expects HTTP 201, and returns a new Client
// constructed from the response (spec.md §4.8). If jwks is non-nil and
// properties doesn't already embed a "jwks" entry, the public portion of
// jwks is exported and included in the request body.
func (c *Client) Register(ctx context.Context, properties map[string]any, initialAccessToken string, jwks *jose.JSONWebKeySet) (result *Client, err error) {
	ctx, span := Tracer.Start(ctx, "Register")
	defer span.End()
	logFlowStart(ctx, "register")
	defer func() { logFlowEnd(ctx, "register", err) }()

	body := make(map[string]any, len(properties)+1)
	for k, v := range properties {
		body[k] = v
	}
	if _, ok := body["jwks"]; !ok && jwks != nil {
		body["jwks"] = publicJWKS(*jwks)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Issuer.Endpoint("registration"), strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if initialAccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+initialAccessToken)
	}

	resp, respBody, err := c.doRegistration(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, parseASError(respBody, resp.StatusCode)
	}

	var reg registrationResponse
	if err := json.Unmarshal(respBody, &reg); err != nil {
		return nil, oidc.NewRPError("client: malformed registration response").WithParent(err)
	}
	var keys jose.JSONWebKeySet
	if jwks != nil {
		keys = *jwks
	}
	metadata, err := reg.toMetadata(keys)
	if err != nil {
		return nil, err
	}
	return NewClient(metadata, c.Issuer, c.HTTPClient)
}

// FromURI fetches a previously registered client's current metadata from
// its registration_client_uri using registration_access_token, and
// returns a new Client constructed from the response (spec.md §4.8).
func (c *Client) FromURI(ctx context.Context, uri, registrationAccessToken string, jwks *jose.JSONWebKeySet) (result *Client, err error) {
	ctx, span := Tracer.Start(ctx, "FromURI")
	defer span.End()
	logFlowStart(ctx, "from_uri")
	defer func() { logFlowEnd(ctx, "from_uri", err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+registrationAccessToken)
	req.Header.Set("Accept", "application/json")

	resp, respBody, err := c.doRegistration(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseASError(respBody, resp.StatusCode)
	}

	var reg registrationResponse
	if err := json.Unmarshal(respBody, &reg); err != nil {
		return nil, oidc.NewRPError("client: malformed registration response").WithParent(err)
	}
	var keys jose.JSONWebKeySet
	if jwks != nil {
		keys = *jwks
	}
	metadata, err := reg.toMetadata(keys)
	if err != nil {
		return nil, err
	}
	return NewClient(metadata, c.Issuer, c.HTTPClient)
}

func (c *Client) doRegistration(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, oidc.DefaultToASError(err, fmt.Sprintf("registration request to %s failed", req.URL))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, oidc.DefaultToASError(err, "failed to read registration response body")
	}
	return resp, body, nil
}

// publicJWKS returns the public portion of a private JWKS, for embedding
// in a dynamic registration request (spec.md §4.8).
func publicJWKS(jwks jose.JSONWebKeySet) jose.JSONWebKeySet {
	public := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(jwks.Keys))}
	for _, k := range jwks.Keys {
		public.Keys = append(public.Keys, k.Public())
	}
	return public
}
