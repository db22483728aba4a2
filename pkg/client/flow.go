package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// resolveEndpoint returns the URL for the named endpoint, substituting
// the AS's mtls_endpoint_aliases entry when the client authenticates to
// it via tls_client_auth/self_signed_tls_client_auth and the AS
// advertises one (spec.md §4.2): those methods authenticate at the TLS
// layer via the AS's dedicated mTLS listener, which is reached through
// the aliased URL rather than the plain one.
func (c *Client) resolveEndpoint(authEndpointKind, name string) string {
	base := c.Issuer.Endpoint(name)
	method, _ := c.authMethodFor(authEndpointKind)
	if method != oidc.AuthMethodTLSClientAuth && method != oidc.AuthMethodSelfSignedTLSClientAuth {
		return base
	}
	if alias, ok := c.Issuer.MTLSEndpointAliases()[name+"_endpoint"]; ok && alias != "" {
		return alias
	}
	return base
}

// authenticate applies Authenticate for endpointKind and, when it
// produced a header (client_secret_basic), sets it on form under a
// sentinel key that doPostAuthenticatedForm moves onto the request.
func (c *Client) authenticate(form url.Values, endpointKind string, clientAssertionPayload map[string]any) error {
	headerName, headerValue, err := c.Authenticate(form, endpointKind, clientAssertionPayload)
	if err != nil {
		return err
	}
	if headerName != "" {
		form.Set("__header_"+headerName, headerValue)
	}
	return nil
}

// doPostAuthenticatedForm posts form to endpoint, moving any pending
// "__header_*" sentinel set by authenticate onto the request's real
// headers and stripping it from the wire body.
func (c *Client) doPostAuthenticatedForm(ctx context.Context, endpoint string, form url.Values, accept string) (*http.Response, error) {
	wire := url.Values{}
	var headers map[string]string
	for k, vs := range form {
		if strings.HasPrefix(k, "__header_") {
			if headers == nil {
				headers = map[string]string{}
			}
			headers[strings.TrimPrefix(k, "__header_")] = vs[0]
			continue
		}
		wire[k] = vs
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(wire.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.HTTPClient.Do(req)
}

// postAuthenticatedForm sends form through doPostAuthenticatedForm with
// Accept: application/json, turns a non-2xx response into an AS error,
// and decodes a successful JSON body into out (when out is non-nil).
func (c *Client) postAuthenticatedForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	resp, err := c.doPostAuthenticatedForm(ctx, endpoint, form, "application/json")
	if err != nil {
		return oidc.DefaultToASError(err, "request to "+endpoint+" failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oidc.DefaultToASError(err, "failed to read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseASError(body, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func parseASError(body []byte, status int) error {
	var asErr oidc.ASError
	if err := json.Unmarshal(body, &asErr); err == nil && asErr.ErrorType != "" {
		return &asErr
	}
	return &oidc.ASError{ErrorType: "server_error", Description: fmt.Sprintf("request failed with HTTP status %d", status)}
}

// exchangeForm posts an already-authenticated form to the token endpoint
// and decodes the result into a TokenSet, or an *oidc.ASError on failure.
func (c *Client) exchangeForm(ctx context.Context, form url.Values) (*TokenSet, error) {
	var body map[string]any
	if err := c.postAuthenticatedForm(ctx, c.resolveEndpoint(EndpointToken, "token"), form, &body); err != nil {
		return nil, err
	}
	return tokenSetFromJSON(body), nil
}

func tokenSetFromJSON(body map[string]any) *TokenSet {
	token := &oauth2.Token{}
	if v, ok := body["access_token"].(string); ok {
		token.AccessToken = v
	}
	if v, ok := body["refresh_token"].(string); ok {
		token.RefreshToken = v
	}
	if v, ok := body["token_type"].(string); ok {
		token.TokenType = v
	}
	if v, ok := body["expires_in"].(float64); ok {
		token.Expiry = time.Now().Add(time.Duration(v) * time.Second)
	}
	token = token.WithExtra(body)
	return NewTokenSet(token)
}

// CallbackChecks are the caller-supplied expectations Callback/OAuthCallback
// validate the redirect against (spec.md §4.6).
type CallbackChecks struct {
	State        string
	Nonce        *string
	MaxAge       *time.Duration
	ResponseType string
}

// Callback consumes the OIDC authorization response: parses parameters,
// checks state, propagates AS errors, enforces the response-type-implied
// parameter set, validates any ID Token, and exchanges an authorization
// code when present (spec.md §4.6 steps 1-7).
func (c *Client) Callback(ctx context.Context, redirectURI string, input any, checks CallbackChecks, codeVerifier string) (result *TokenSet, err error) {
	ctx, span := Tracer.Start(ctx, "Callback")
	defer span.End()
	logFlowStart(ctx, "callback")
	defer func() { logFlowEnd(ctx, "callback", err) }()

	params, err := ParseCallback(input)
	if err != nil {
		return nil, err
	}

	if checks.MaxAge == nil && c.Metadata.DefaultMaxAge > 0 {
		d := c.Metadata.DefaultMaxAge
		checks.MaxAge = &d
	}

	if err := checkState(params, checks.State); err != nil {
		return nil, err
	}
	if params.IsError() {
		return nil, asErrorFromParams(params)
	}
	if checks.ResponseType != "" {
		if err := enforceResponseTypeParams(params, checks.ResponseType); err != nil {
			return nil, err
		}
	}

	var tokenSet *TokenSet
	if idToken, ok := params["id_token"]; ok {
		claims, err := c.ValidateIDToken(ctx, idToken, oidc.ContextAuthorization, ValidateOptions{
			Nonce:       checks.Nonce,
			MaxAge:      checks.MaxAge,
			State:       params["state"],
			AccessToken: params["access_token"],
			Code:        params["code"],
		})
		if err != nil {
			return nil, err
		}
		token := &oauth2.Token{AccessToken: params["access_token"], TokenType: params["token_type"]}
		token = token.WithExtra(map[string]any{"id_token": idToken, "session_state": params["session_state"]})
		tokenSet = NewTokenSet(token).WithClaims(claims)
		if params["code"] == "" {
			return tokenSet, nil
		}
	}

	if code, ok := params["code"]; ok {
		form := url.Values{}
		form.Set("grant_type", string(oidc.GrantTypeAuthorizationCode))
		form.Set("code", code)
		form.Set("redirect_uri", redirectURI)
		if codeVerifier != "" {
			form.Set("code_verifier", codeVerifier)
		}
		if err := c.authenticate(form, EndpointToken, nil); err != nil {
			return nil, err
		}
		exchanged, err := c.exchangeForm(ctx, form)
		if err != nil {
			return nil, err
		}
		if exchanged.IDToken != "" {
			claims, err := c.ValidateIDToken(ctx, exchanged, oidc.ContextToken, ValidateOptions{
				Nonce:       checks.Nonce,
				MaxAge:      checks.MaxAge,
				AccessToken: exchanged.AccessToken,
			})
			if err != nil {
				return nil, err
			}
			exchanged = exchanged.WithClaims(claims)
		}
		if exchanged.SessionState == "" {
			exchanged.SessionState = params["session_state"]
		}
		return exchanged, nil
	}

	if tokenSet != nil {
		return tokenSet, nil
	}
	if oidc.ResponseType(checks.ResponseType) == oidc.ResponseTypeNone {
		// response_type=none carries no artifacts; enforceResponseTypeParams
		// has already rejected any that were present.
		empty := NewTokenSet(&oauth2.Token{})
		empty.SessionState = params["session_state"]
		return empty, nil
	}
	return nil, oidc.NewRPError("validator: callback carried neither code nor id_token")
}

// OAuthCallback is Callback without any ID Token handling; response_type
// containing "id_token" is not supported here (spec.md §4.6).
func (c *Client) OAuthCallback(ctx context.Context, redirectURI string, input any, checks CallbackChecks, codeVerifier string) (result *TokenSet, err error) {
	ctx, span := Tracer.Start(ctx, "OAuthCallback")
	defer span.End()
	logFlowStart(ctx, "oauth_callback")
	defer func() { logFlowEnd(ctx, "oauth_callback", err) }()

	if strings.Contains(checks.ResponseType, "id_token") {
		return nil, oidc.NewRPError("client: OAuthCallback does not support response_type %q", checks.ResponseType)
	}
	params, err := ParseCallback(input)
	if err != nil {
		return nil, err
	}
	if err := checkState(params, checks.State); err != nil {
		return nil, err
	}
	if params.IsError() {
		return nil, asErrorFromParams(params)
	}
	if checks.ResponseType != "" {
		if err := enforceResponseTypeParams(params, checks.ResponseType); err != nil {
			return nil, err
		}
	}
	code, ok := params["code"]
	if !ok {
		return nil, oidc.NewRPError("client: callback carried no code")
	}
	form := url.Values{}
	form.Set("grant_type", string(oidc.GrantTypeAuthorizationCode))
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}
	if err := c.authenticate(form, EndpointToken, nil); err != nil {
		return nil, err
	}
	exchanged, err := c.exchangeForm(ctx, form)
	if err != nil {
		return nil, err
	}
	if exchanged.SessionState == "" {
		exchanged.SessionState = params["session_state"]
	}
	return exchanged, nil
}

func checkState(params CallbackParams, expected string) error {
	if expected != "" {
		if params["state"] != expected {
			return oidc.NewRPError("validator: state mismatch, expected %s, got: %s", expected, params["state"])
		}
		return nil
	}
	if params["state"] != "" {
		return oidc.NewRPError("client: params carried a state but no state check was configured")
	}
	return nil
}

func asErrorFromParams(params CallbackParams) *oidc.ASError {
	return &oidc.ASError{
		ErrorType:    params["error"],
		Description:  params["error_description"],
		ErrorURI:     params["error_uri"],
		State:        params["state"],
		SessionState: params["session_state"],
	}
}

// enforceResponseTypeParams implements step 5: each member of a (possibly
// hybrid) response_type implies a required param; "none" forbids all
// three token-bearing params.
func enforceResponseTypeParams(params CallbackParams, responseType string) error {
	parts := oidc.ResponseType(responseType).Parts()
	if len(parts) == 1 && parts[0] == string(oidc.ResponseTypeNone) {
		for _, forbidden := range []string{"code", "id_token", "access_token"} {
			if params[forbidden] != "" {
				return oidc.NewRPError("validator: response_type none forbids %q in the response", forbidden)
			}
		}
		return nil
	}
	for _, part := range parts {
		switch part {
		case string(oidc.ResponseTypeCode):
			if params["code"] == "" {
				return oidc.NewRPError("validator: response_type %q requires code", responseType)
			}
		case string(oidc.ResponseTypeIDToken):
			if params["id_token"] == "" {
				return oidc.NewRPError("validator: response_type %q requires id_token", responseType)
			}
		case string(oidc.ResponseTypeToken):
			if params["access_token"] == "" || params["token_type"] == "" {
				return oidc.NewRPError("validator: response_type %q requires access_token and token_type", responseType)
			}
		}
	}
	return nil
}

// Refresh exchanges a refresh_token at the token endpoint (spec.md §4.6).
func (c *Client) Refresh(ctx context.Context, refreshToken string, extra map[string]any) (result *TokenSet, err error) {
	ctx, span := Tracer.Start(ctx, "Refresh")
	defer span.End()
	logFlowStart(ctx, "refresh")
	defer func() { logFlowEnd(ctx, "refresh", err) }()

	form := url.Values{}
	form.Set("grant_type", string(oidc.GrantTypeRefreshToken))
	form.Set("refresh_token", refreshToken)
	for k, v := range extra {
		form.Set(k, toFormValue(v))
	}
	if err := c.authenticate(form, EndpointToken, nil); err != nil {
		return nil, err
	}
	tokenSet, err := c.exchangeForm(ctx, form)
	if err != nil {
		return nil, err
	}
	if tokenSet.IDToken != "" {
		claims, err := c.ValidateIDToken(ctx, tokenSet, oidc.ContextToken, ValidateOptions{})
		if err != nil {
			return nil, err
		}
		tokenSet = tokenSet.WithClaims(claims)
	}
	return tokenSet, nil
}

// Grant performs a generic authenticated POST to token_endpoint, for
// grant types with no dedicated helper (spec.md §4.6).
func (c *Client) Grant(ctx context.Context, body map[string]any) (result *TokenSet, err error) {
	ctx, span := Tracer.Start(ctx, "Grant")
	defer span.End()
	logFlowStart(ctx, "grant")
	defer func() { logFlowEnd(ctx, "grant", err) }()

	form := url.Values{}
	for k, v := range body {
		form.Set(k, toFormValue(v))
	}
	if err := c.authenticate(form, EndpointToken, nil); err != nil {
		return nil, err
	}
	return c.exchangeForm(ctx, form)
}

// TokenExchange is RFC 8693's token exchange, a thin wrapper over Grant
// setting grant_type to the token-exchange URN.
func (c *Client) TokenExchange(ctx context.Context, subjectToken, subjectTokenType string, extra map[string]any) (*TokenSet, error) {
	body := map[string]any{
		"grant_type":         string(oidc.GrantTypeTokenExchange),
		"subject_token":      subjectToken,
		"subject_token_type": subjectTokenType,
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.Grant(ctx, body)
}

// Revoke authenticates and posts to revocation_endpoint; any 2xx status is
// success and the response body is ignored, per RFC 7009.
func (c *Client) Revoke(ctx context.Context, token, hint string) (err error) {
	ctx, span := Tracer.Start(ctx, "Revoke")
	defer span.End()
	logFlowStart(ctx, "revoke")
	defer func() { logFlowEnd(ctx, "revoke", err) }()

	form := url.Values{}
	form.Set("token", token)
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	if err := c.authenticate(form, EndpointRevocation, nil); err != nil {
		return err
	}
	resp, err := c.doPostAuthenticatedForm(ctx, c.resolveEndpoint(EndpointRevocation, "revocation"), form, "")
	if err != nil {
		return oidc.DefaultToASError(err, "revocation request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oidc.DefaultToASError(fmt.Errorf("revocation failed with status %d", resp.StatusCode), "revocation failed")
	}
	return nil
}

// Introspect authenticates and posts to introspection_endpoint, returning
// the parsed JSON body (spec.md §4.6).
func (c *Client) Introspect(ctx context.Context, token, hint string) (result map[string]any, err error) {
	ctx, span := Tracer.Start(ctx, "Introspect")
	defer span.End()
	logFlowStart(ctx, "introspect")
	defer func() { logFlowEnd(ctx, "introspect", err) }()

	form := url.Values{}
	form.Set("token", token)
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	if err := c.authenticate(form, EndpointIntrospection, nil); err != nil {
		return nil, err
	}
	var body map[string]any
	if err := c.postAuthenticatedForm(ctx, c.resolveEndpoint(EndpointIntrospection, "introspection"), form, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// UserinfoDelivery selects how the access token travels to the userinfo
// endpoint.
type UserinfoDelivery string

const (
	UserinfoViaHeader UserinfoDelivery = "header"
	UserinfoViaQuery  UserinfoDelivery = "query"
	UserinfoViaForm   UserinfoDelivery = "form"
)

// Userinfo requests the userinfo endpoint and cross-checks sub against
// the companion TokenSet's ID Token, when one is supplied (spec.md §4.6).
func (c *Client) Userinfo(ctx context.Context, accessToken string, subjectSource any, delivery UserinfoDelivery) (result oidc.UserInfo, err error) {
	ctx, span := Tracer.Start(ctx, "Userinfo")
	defer span.End()
	logFlowStart(ctx, "userinfo")
	defer func() { logFlowEnd(ctx, "userinfo", err) }()

	endpoint := c.Issuer.Endpoint("userinfo")
	if c.Metadata.TLSClientCertificateBoundAccessTokens {
		if alias, ok := c.Issuer.MTLSEndpointAliases()["userinfo_endpoint"]; ok && alias != "" {
			endpoint = alias
		}
	}

	wantsJWT := c.Metadata.UserinfoSignedResponseAlg != "" || c.Metadata.UserinfoEncryptedResponseAlg != ""
	accept := "application/json"
	if wantsJWT {
		accept = "application/jwt"
	}

	var req *http.Request
	switch delivery {
	case UserinfoViaQuery:
		u, parseErr := url.Parse(endpoint)
		if parseErr != nil {
			return nil, parseErr
		}
		q := u.Query()
		q.Set("access_token", accessToken)
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	case UserinfoViaForm:
		form := url.Values{"access_token": {accessToken}}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+accessToken)
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, oidc.DefaultToASError(err, "userinfo request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, oidc.DefaultToASError(err, "failed to read userinfo response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseASError(body, resp.StatusCode)
	}

	var userinfo oidc.UserInfo
	if wantsJWT {
		contentType := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "application/jwt") {
			return nil, oidc.NewRPError("client: expected application/jwt userinfo response, got %q", contentType)
		}
		claims, err := c.ValidateIDToken(ctx, string(body), oidc.ContextUserinfo, ValidateOptions{})
		if err != nil {
			return nil, err
		}
		userinfo = oidc.UserInfo(claims)
	} else {
		if err := json.Unmarshal(body, &userinfo); err != nil {
			return nil, oidc.NewRPError("client: malformed userinfo JSON response").WithParent(err)
		}
	}

	if tokenSet, ok := subjectSource.(*TokenSet); ok && tokenSet != nil && tokenSet.Claims() != nil {
		if tokenSet.Claims().GetSubject() != userinfo.GetSubject() {
			return nil, oidc.ErrUserinfoSubMismatch
		}
	}
	return userinfo, nil
}

// PushedAuthorizationRequest posts authorization parameters to
// pushed_authorization_request_endpoint and returns the resulting
// request_uri and its lifetime (supplemented feature, see SPEC_FULL.md §6).
type PushedAuthorizationResponse struct {
	RequestURI string        `json:"request_uri"`
	ExpiresIn  time.Duration `json:"-"`
}

func (c *Client) PushedAuthorizationRequest(ctx context.Context, params map[string]any) (result *PushedAuthorizationResponse, err error) {
	ctx, span := Tracer.Start(ctx, "PushedAuthorizationRequest")
	defer span.End()
	logFlowStart(ctx, "pushed_authorization_request")
	defer func() { logFlowEnd(ctx, "pushed_authorization_request", err) }()

	values, err := c.AuthorizationParams(params)
	if err != nil {
		return nil, err
	}
	if err := c.authenticate(values, EndpointToken, nil); err != nil {
		return nil, err
	}
	var body struct {
		RequestURI string `json:"request_uri"`
		ExpiresIn  int64  `json:"expires_in"`
	}
	if err := c.postAuthenticatedForm(ctx, c.resolveEndpoint(EndpointToken, "pushed_authorization_request"), values, &body); err != nil {
		return nil, err
	}
	return &PushedAuthorizationResponse{RequestURI: body.RequestURI, ExpiresIn: time.Duration(body.ExpiresIn) * time.Second}, nil
}
