package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// AuthorizationParams resolves and serializes authorization request
// parameters per spec.md §4.1: defaults are applied, null/absent values
// are dropped, `claims` objects are JSON-encoded, `resource` is kept as a
// multi-valued parameter, and every other non-string value is coerced to
// a string. The hard rule that `nonce` is mandatory whenever the resolved
// `response_type` contains "id_token" is enforced here.
func (c *Client) AuthorizationParams(params map[string]any) (url.Values, error) {
	merged := make(map[string]any, len(params)+4)
	for k, v := range params {
		merged[k] = v
	}
	if _, ok := merged["client_id"]; !ok {
		merged["client_id"] = c.Metadata.ClientID
	}
	if _, ok := merged["scope"]; !ok {
		merged["scope"] = "openid"
	}
	responseType, err := c.resolveResponseType(merged)
	if err != nil {
		return nil, err
	}
	merged["response_type"] = responseType
	redirectURI, err := c.resolveRedirectURI(merged)
	if err != nil {
		return nil, err
	}
	merged["redirect_uri"] = redirectURI

	if oidc.ResponseType(responseType).Contains("id_token") {
		if v, ok := merged["nonce"]; !ok || v == nil || v == "" {
			return nil, oidc.NewRPError("invalid parameter: nonce is required when response_type includes id_token")
		}
	}

	return serializeParams(merged)
}

func (c *Client) resolveResponseType(params map[string]any) (string, error) {
	if v, ok := params["response_type"]; ok && v != nil && v != "" {
		return fmt.Sprint(v), nil
	}
	if rt := c.Metadata.singleResponseType(); rt != "" {
		return rt, nil
	}
	return "", oidc.NewRPError("invalid parameter: response_type must be provided (client has %d configured)", len(c.Metadata.ResponseTypes))
}

func (c *Client) resolveRedirectURI(params map[string]any) (string, error) {
	if v, ok := params["redirect_uri"]; ok && v != nil && v != "" {
		return fmt.Sprint(v), nil
	}
	if uri := c.Metadata.singleRedirectURI(); uri != "" {
		return uri, nil
	}
	return "", oidc.NewRPError("invalid parameter: redirect_uri must be provided (client has %d configured)", len(c.Metadata.RedirectURIs))
}

// serializeParams applies the drop-null / JSON-encode-claims /
// multi-value-resource / stringify-everything-else rules.
func serializeParams(params map[string]any) (url.Values, error) {
	values := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		switch vv := v.(type) {
		case string:
			if vv == "" {
				continue
			}
			values.Set(k, vv)
		case []string:
			if len(vv) == 0 {
				continue
			}
			for _, e := range vv {
				values.Add(k, e)
			}
		case map[string]any:
			encoded, err := json.Marshal(vv)
			if err != nil {
				return nil, err
			}
			values.Set(k, string(encoded))
		default:
			values.Set(k, fmt.Sprint(vv))
		}
	}
	return values, nil
}

// AuthorizationURL returns the full authorization request URL, preserving
// any query string the discovered authorization_endpoint already carried
// (spec.md §4.1, §6).
func (c *Client) AuthorizationURL(params map[string]any) (string, error) {
	values, err := c.AuthorizationParams(params)
	if err != nil {
		return "", err
	}
	return mergeEndpointURL(c.Issuer.Endpoint("authorization"), values)
}

func mergeEndpointURL(endpoint string, add url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("client: invalid endpoint %q: %w", endpoint, err)
	}
	existing := u.Query()
	for k, vs := range add {
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}

// AuthorizationForm renders a self-submitting HTML5 document with hidden
// inputs for every parameter, the self-submitting-form variant of
// spec.md §4.1 / §6.
func (c *Client) AuthorizationForm(params map[string]any) (string, error) {
	values, err := c.AuthorizationParams(params)
	if err != nil {
		return "", err
	}
	var inputs strings.Builder
	for k, vs := range values {
		for _, v := range vs {
			fmt.Fprintf(&inputs, "<input type=\"hidden\" name=%q value=%q>\n", k, v)
		}
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Authorization Redirect</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action=%q>
%s</form>
</body>
</html>`, c.Issuer.Endpoint("authorization"), inputs.String()), nil
}

// EndSessionURL builds the RP-Initiated Logout URL (spec.md §4.1).
// idTokenHint accepts either a raw JWT string or a *TokenSet, from which
// the id_token is extracted.
func (c *Client) EndSessionURL(idTokenHint any, params map[string]any) (string, error) {
	merged := make(map[string]any, len(params)+3)
	for k, v := range params {
		merged[k] = v
	}
	if _, ok := merged["client_id"]; !ok {
		merged["client_id"] = c.Metadata.ClientID
	}
	switch hint := idTokenHint.(type) {
	case string:
		if hint != "" {
			merged["id_token_hint"] = hint
		}
	case *TokenSet:
		if hint != nil && hint.IDToken != "" {
			merged["id_token_hint"] = hint.IDToken
		}
	case nil:
	default:
		return "", oidc.NewRPError("invalid parameter: id_token_hint must be a string or *TokenSet")
	}
	if _, ok := merged["post_logout_redirect_uri"]; !ok {
		if uri := c.Metadata.singlePostLogoutRedirectURI(); uri != "" {
			merged["post_logout_redirect_uri"] = uri
		}
	}
	values, err := serializeParams(merged)
	if err != nil {
		return "", err
	}
	return mergeEndpointURL(c.Issuer.Endpoint("end_session"), values)
}
