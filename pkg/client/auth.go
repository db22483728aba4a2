package client

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/oidc-rp/rpcore/pkg/crypto"
	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// clientAssertionLifetime is the JWT assertion's iat-to-exp window
// (spec.md §4.2); the AS is expected to reject anything wider.
const clientAssertionLifetime = 60 * time.Second

// Endpoint names passed to Authenticate, matching Issuer.Endpoint.
const (
	EndpointToken               = "token"
	EndpointIntrospection       = "introspection"
	EndpointRevocation          = "revocation"
	EndpointDeviceAuthorization = "device_authorization"
)

// authMethodFor resolves which auth method and signing alg apply to the
// named endpoint (spec.md §4.2: token/introspection/revocation each carry
// their own, independently configurable, auth method).
func (c *Client) authMethodFor(endpoint string) (oidc.AuthMethod, string) {
	switch endpoint {
	case EndpointIntrospection:
		return c.Metadata.IntrospectionEndpointAuthMethod, c.Metadata.IntrospectionEndpointAuthSigningAlg
	case EndpointRevocation:
		return c.Metadata.RevocationEndpointAuthMethod, c.Metadata.RevocationEndpointAuthSigningAlg
	default:
		return c.Metadata.TokenEndpointAuthMethod, c.Metadata.TokenEndpointAuthSigningAlg
	}
}

// Authenticate applies the client authentication method configured for
// endpoint to form, mutating it in place (spec.md §4.2). When the method
// calls for HTTP Basic it returns the "Authorization" header name and
// value for the caller to set on the outgoing request instead of mutating
// form with the secret; otherwise both return values are empty.
//
// clientAssertionPayload, when non-nil, is merged into the JWT assertion
// claims before signing for client_secret_jwt/private_key_jwt, letting a
// caller add claims an AS requires beyond the mandated set.
func (c *Client) Authenticate(form url.Values, endpoint string, clientAssertionPayload map[string]any) (headerName, headerValue string, err error) {
	method, signingAlg := c.authMethodFor(endpoint)
	switch method {
	case oidc.AuthMethodNone:
		form.Set("client_id", c.Metadata.ClientID)
		return "", "", nil

	case oidc.AuthMethodPost:
		form.Set("client_id", c.Metadata.ClientID)
		form.Set("client_secret", c.Metadata.ClientSecret)
		return "", "", nil

	case oidc.AuthMethodBasic:
		basic := basicAuthHeader(c.Metadata.ClientID, c.Metadata.ClientSecret)
		return "Authorization", basic, nil

	case oidc.AuthMethodClientSecretJWT, oidc.AuthMethodPrivateKeyJWT:
		assertion, err := c.SignedJWTProfileAssertion(method, signingAlg, clientAssertionPayload)
		if err != nil {
			return "", "", err
		}
		form.Set("client_id", c.Metadata.ClientID)
		form.Set("client_assertion_type", oidc.ClientAssertionTypeJWTBearer)
		form.Set("client_assertion", assertion)
		return "", "", nil

	case oidc.AuthMethodTLSClientAuth, oidc.AuthMethodSelfSignedTLSClientAuth:
		// Authentication happens at the transport layer via the mutual
		// TLS certificate configured on the Client's HTTPClient; only
		// client_id needs to travel in the body.
		form.Set("client_id", c.Metadata.ClientID)
		return "", "", nil

	default:
		return "", "", fmt.Errorf("client: unsupported client authentication method %q", method)
	}
}

// basicAuthHeader builds the client_secret_basic Authorization header
// value, form-url-encoding username and password before base64 as
// RFC 6749 §2.3.1 requires (spec.md §6).
func basicAuthHeader(clientID, clientSecret string) string {
	creds := url.QueryEscape(clientID) + ":" + url.QueryEscape(clientSecret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// SignedJWTProfileAssertion builds and signs the RFC 7523 JWT bearer
// assertion used by client_secret_jwt and private_key_jwt (spec.md §4.2):
// iss=sub=client_id, aud=token endpoint, a fresh jti, and a 60-second
// iat/exp window. Authenticate calls this for the token, introspection,
// and revocation endpoints; it is exported so a caller assembling a
// non-standard grant request (e.g. a token exchange or a PAR call against
// an endpoint Authenticate doesn't know about) can build the same
// assertion without duplicating the claim set by hand.
//
// method selects client_secret_jwt (HS256 over the client secret, the
// default signingAlg when one isn't supplied) or private_key_jwt (a
// registered asymmetric key; signingAlg is required). extra is merged
// into the claim set before signing, letting a caller add claims an AS
// requires beyond the mandated iss/sub/aud/jti/iat/exp set.
func (c *Client) SignedJWTProfileAssertion(method oidc.AuthMethod, signingAlg string, extra map[string]any) (string, error) {
	if signingAlg == "" {
		if method == oidc.AuthMethodClientSecretJWT {
			signingAlg = "HS256"
		} else {
			return "", fmt.Errorf("client: private_key_jwt requires a signing alg to be configured")
		}
	}
	now := time.Now()
	claims := map[string]any{
		"iss": c.Metadata.ClientID,
		"sub": c.Metadata.ClientID,
		"aud": c.Issuer.Endpoint("token"),
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(clientAssertionLifetime).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	signer, err := c.signerForAlg(jose.SignatureAlgorithm(signingAlg))
	if err != nil {
		return "", err
	}
	return crypto.Sign(claims, signer)
}
