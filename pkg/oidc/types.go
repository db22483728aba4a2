package oidc

import (
	"encoding/json"
	"strings"
)

// ResponseType is the OAuth2 `response_type` request parameter. It may be
// a space-delimited combination of several response type tokens (hybrid
// flow), e.g. "code id_token".
type ResponseType string

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeIDToken ResponseType = "id_token"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeNone    ResponseType = "none"
)

// Parts splits a (possibly hybrid) response type into its members.
func (r ResponseType) Parts() []string {
	return strings.Fields(string(r))
}

// Contains reports whether part is one of the members of r.
func (r ResponseType) Contains(part string) bool {
	for _, p := range r.Parts() {
		if p == part {
			return true
		}
	}
	return false
}

// GrantType is the OAuth2 `grant_type` request parameter.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeDeviceCode        GrantType = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeTokenExchange     GrantType = "urn:ietf:params:oauth:grant-type:token-exchange"
	GrantTypeJWTBearer         GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// AuthMethod is a `token_endpoint_auth_method` (and analogous introspection/
// revocation/device-authorization) value.
type AuthMethod string

const (
	AuthMethodNone                  AuthMethod = "none"
	AuthMethodBasic                 AuthMethod = "client_secret_basic"
	AuthMethodPost                  AuthMethod = "client_secret_post"
	AuthMethodPrivateKeyJWT         AuthMethod = "private_key_jwt"
	AuthMethodClientSecretJWT       AuthMethod = "client_secret_jwt"
	AuthMethodTLSClientAuth         AuthMethod = "tls_client_auth"
	AuthMethodSelfSignedTLSClientAuth AuthMethod = "self_signed_tls_client_auth"
)

// ClientAssertionTypeJWTBearer is the `client_assertion_type` value used by
// both `client_secret_jwt` and `private_key_jwt` (RFC 7523).
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ValidationContext names the endpoint that returned an ID Token, since
// the ID Token Validator's required-claim set depends on it.
type ValidationContext string

const (
	ContextAuthorization ValidationContext = "authorization"
	ContextToken         ValidationContext = "token"
	ContextUserinfo      ValidationContext = "userinfo"
)

// SpaceDelimitedArray is a string slice that (de)serializes as a single
// space-separated string on the wire, as OAuth2/OIDC does for `scope`.
type SpaceDelimitedArray []string

func (s SpaceDelimitedArray) String() string {
	return strings.Join(s, " ")
}

func (s SpaceDelimitedArray) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SpaceDelimitedArray) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		var arr []string
		if err2 := json.Unmarshal(data, &arr); err2 != nil {
			return err
		}
		*s = arr
		return nil
	}
	if str == "" {
		*s = nil
		return nil
	}
	*s = strings.Fields(str)
	return nil
}

// Audience unmarshals either a single `aud` string or an array into a
// string slice, per the JWT spec.
type Audience []string

func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = many
	return nil
}
