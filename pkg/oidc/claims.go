package oidc

import "time"

// Claims is the decoded JSON payload of an ID Token, Userinfo response, or
// any other JWT this module validates. It is a plain map rather than a
// fixed struct because distributed/aggregated claim resolution (§4.6)
// merges additional claims into it after the fact, and because unknown
// claims must survive round-tripping untouched.
type Claims map[string]any

func (c Claims) str(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c Claims) num(key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (c Claims) GetIssuer() string  { return c.str("iss") }
func (c Claims) GetSubject() string { return c.str("sub") }
func (c Claims) GetNonce() string   { return c.str("nonce") }
func (c Claims) GetAuthorizedParty() string {
	return c.str("azp")
}
func (c Claims) GetAccessTokenHash() string { return c.str("at_hash") }
func (c Claims) GetCodeHash() string        { return c.str("c_hash") }
func (c Claims) GetStateHash() string       { return c.str("s_hash") }
func (c Claims) GetTenantID() string        { return c.str("tid") }

// GetAudience returns `aud` normalized to a slice regardless of whether it
// was encoded as a single string or an array.
func (c Claims) GetAudience() []string {
	switch v := c["aud"].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Has reports whether the claim is present at all (distinguishing absent
// from zero-valued, which several validation steps need).
func (c Claims) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Claims) GetExpiration() (time.Time, bool) {
	n, ok := c.num("exp")
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).UTC(), true
}

func (c Claims) GetIssuedAt() (time.Time, bool) {
	n, ok := c.num("iat")
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).UTC(), true
}

func (c Claims) GetNotBefore() (time.Time, bool) {
	n, ok := c.num("nbf")
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).UTC(), true
}

func (c Claims) GetAuthTime() (time.Time, bool) {
	n, ok := c.num("auth_time")
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).UTC(), true
}

// ClaimSource is one entry of the decoded `_claim_sources` object from an
// ID Token or Userinfo response used for distributed/aggregated claim
// resolution.
type ClaimSource struct {
	Endpoint    string `json:"endpoint,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	JWT         string `json:"JWT,omitempty"`
}

// UserInfo is the decoded response of the Userinfo endpoint, also used as
// the target of JWT-response verification when configured.
type UserInfo map[string]any

// GetSubject satisfies the SubjectGetter contract flow functions use to
// cross-check userinfo against a TokenSet's ID Token.
func (u UserInfo) GetSubject() string {
	s, _ := u["sub"].(string)
	return s
}
