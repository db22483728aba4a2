package client

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zitadel/schema"
)

// callbackWire tags the only parameters the Response Parser retains,
// whatever the input shape (spec.md §4.3); everything else an AS or a
// malicious redirect might tack on is dropped by callbackDecoder's
// IgnoreUnknownKeys.
type callbackWire struct {
	Code             string `schema:"code"`
	State            string `schema:"state"`
	IDToken          string `schema:"id_token"`
	AccessToken      string `schema:"access_token"`
	TokenType        string `schema:"token_type"`
	ExpiresIn        string `schema:"expires_in"`
	Scope            string `schema:"scope"`
	RefreshToken     string `schema:"refresh_token"`
	SessionState     string `schema:"session_state"`
	Error            string `schema:"error"`
	ErrorDescription string `schema:"error_description"`
	ErrorURI         string `schema:"error_uri"`
	Response         string `schema:"response"`
	Issuer           string `schema:"iss"`
}

func (w callbackWire) toParams() CallbackParams {
	out := CallbackParams{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("code", w.Code)
	set("state", w.State)
	set("id_token", w.IDToken)
	set("access_token", w.AccessToken)
	set("token_type", w.TokenType)
	set("expires_in", w.ExpiresIn)
	set("scope", w.Scope)
	set("refresh_token", w.RefreshToken)
	set("session_state", w.SessionState)
	set("error", w.Error)
	set("error_description", w.ErrorDescription)
	set("error_uri", w.ErrorURI)
	set("response", w.Response)
	set("iss", w.Issuer)
	return out
}

// callbackDecoder is shared across every ParseCallback call; *schema.Decoder
// is safe for concurrent use once configured, the same assumption the
// teacher's webServer makes of its own package-level decoder.
var callbackDecoder = newCallbackDecoder()

func newCallbackDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// CallbackParams is the normalized set of OIDC/OAuth2 callback parameters,
// regardless of whether they arrived via query string, POST body, or a
// caller-supplied map.
type CallbackParams map[string]string

// ParseCallback extracts CallbackParams from any of: a raw URL string, an
// *http.Request (GET query or POST form body), a url.Values, or a
// map[string]string/map[string]any (spec.md §4.3).
func ParseCallback(input any) (CallbackParams, error) {
	switch v := input.(type) {
	case string:
		return parseCallbackString(v)
	case *http.Request:
		return parseCallbackRequest(v)
	case url.Values:
		return filterCallbackValues(v), nil
	case map[string]string:
		values := url.Values{}
		for k, val := range v {
			values.Set(k, val)
		}
		return filterCallbackValues(values), nil
	case map[string]any:
		values := url.Values{}
		for k, val := range v {
			if s, ok := val.(string); ok {
				values.Set(k, s)
			}
		}
		return filterCallbackValues(values), nil
	default:
		return nil, oidcInvalidInput()
	}
}

func oidcInvalidInput() error {
	return &parseError{"client: unsupported callback input type"}
}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

// parseCallbackString accepts either a full URL (query string wins) or a
// bare query/form-encoded string.
func parseCallbackString(raw string) (CallbackParams, error) {
	if u, err := url.Parse(raw); err == nil && u.RawQuery != "" {
		return filterCallbackValues(u.Query()), nil
	}
	if strings.Contains(raw, "#") {
		parts := strings.SplitN(raw, "#", 2)
		values, err := url.ParseQuery(parts[1])
		if err != nil {
			return nil, err
		}
		return filterCallbackValues(values), nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	return filterCallbackValues(values), nil
}

// parseCallbackRequest reads the query string for GET and the form body
// for POST, mirroring the two shapes an authorization response can take
// (redirect-based vs form_post response_mode).
func parseCallbackRequest(req *http.Request) (CallbackParams, error) {
	if req.Method == http.MethodPost {
		contentType := req.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			values, err := url.ParseQuery(string(body))
			if err != nil {
				return nil, err
			}
			return filterCallbackValues(values), nil
		}
	}
	return filterCallbackValues(req.URL.Query()), nil
}

func filterCallbackValues(values url.Values) CallbackParams {
	var wire callbackWire
	// Decode errors here only reflect a malformed multi-value field; any
	// parameter that decoded fine is still trustworthy, so the error is
	// swallowed rather than surfaced, matching the drop-the-unknown-rest
	// tolerance this parser already applies to its input shapes.
	_ = callbackDecoder.Decode(&wire, values)
	return wire.toParams()
}

// IsError reports whether the callback carries an AS-originated error.
func (p CallbackParams) IsError() bool {
	return p["error"] != ""
}
