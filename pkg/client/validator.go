package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/oidc-rp/rpcore/pkg/crypto"
	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// ValidateOptions carries the per-call inputs the ID Token Validator needs
// beyond the token itself (spec.md §4.4).
type ValidateOptions struct {
	// Nonce is the expected nonce. A nil pointer suppresses the check
	// entirely; a non-nil pointer (including one to "") is compared for
	// strict equality against the token's nonce claim.
	Nonce *string

	// MaxAge, when non-nil, requires auth_time to satisfy
	// auth_time + *MaxAge >= now - tolerance.
	MaxAge *time.Duration

	// State, AccessToken, and Code are the companion artifacts used for
	// s_hash/at_hash/c_hash cross-checks in the authorization context.
	State       string
	AccessToken string
	Code        string
}

// extractJWT reads the JWT to validate out of a TokenSet or a raw string.
func extractJWT(token any) (string, error) {
	switch v := token.(type) {
	case string:
		if v == "" {
			return "", oidc.ErrMissingIDToken
		}
		return v, nil
	case *TokenSet:
		if v == nil || v.IDToken == "" {
			return "", oidc.ErrMissingIDToken
		}
		return v.IDToken, nil
	default:
		return "", oidc.NewRPError("validator: unsupported token input type %T", token)
	}
}

// ValidateIDToken implements the ID Token Validator state machine of
// spec.md §4.4. It is pure over (token, client metadata, issuer keys,
// current time): vctx selects the required-claim set and which
// encrypted/signed-response alg pair applies.
func (c *Client) ValidateIDToken(ctx context.Context, token any, vctx oidc.ValidationContext, opts ValidateOptions) (oidc.Claims, error) {
	ctx, span := Tracer.Start(ctx, "ValidateIDToken")
	defer span.End()

	raw, err := extractJWT(token)
	if err != nil {
		return nil, err
	}

	raw, err = c.decryptIfConfigured(ctx, raw, vctx)
	if err != nil {
		return nil, err
	}

	headerBytes, payloadBytes, err := crypto.ParsePayload(raw)
	if err != nil {
		return nil, oidc.NewRPError("validator: malformed JWT").WithParent(err)
	}
	var rawHeader struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, oidc.NewRPError("validator: malformed JWT header").WithParent(err)
	}

	signedAlg := c.Metadata.IDTokenSignedResponseAlg
	if vctx == oidc.ContextUserinfo {
		signedAlg = c.Metadata.UserinfoSignedResponseAlg
	}
	if signedAlg != "" && rawHeader.Alg != signedAlg {
		return nil, oidc.NewRPError("validator: alg %q does not match configured %q", rawHeader.Alg, signedAlg)
	}

	var claims oidc.Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, oidc.NewRPError("validator: malformed JWT payload").WithParent(err)
	}

	if vctx != oidc.ContextUserinfo {
		for _, required := range []string{"iss", "sub", "aud", "exp", "iat"} {
			if !claims.Has(required) {
				return nil, oidc.NewRPError("validator: missing required claim %q", required)
			}
		}
	}

	if err := c.checkIssuer(claims); err != nil {
		return nil, err
	}
	if err := checkTimestamps(claims, c.Metadata.ClockTolerance); err != nil {
		return nil, err
	}
	if err := c.checkAuthTime(claims, opts.MaxAge); err != nil {
		return nil, err
	}
	if err := checkNonce(claims, opts.Nonce); err != nil {
		return nil, err
	}
	if err := c.checkAudience(claims); err != nil {
		return nil, err
	}
	if err := checkHashClaims(claims, jose.SignatureAlgorithm(rawHeader.Alg), vctx, opts); err != nil {
		return nil, err
	}

	if err := c.verifySignature(ctx, raw, rawHeader.Alg, rawHeader.Kid); err != nil {
		return nil, err
	}

	return claims, nil
}

func (c *Client) decryptIfConfigured(ctx context.Context, raw string, vctx oidc.ValidationContext) (string, error) {
	encAlg, encEnc := c.Metadata.IDTokenEncryptedResponseAlg, c.Metadata.IDTokenEncryptedResponseEnc
	if vctx == oidc.ContextUserinfo {
		encAlg, encEnc = c.Metadata.UserinfoEncryptedResponseAlg, c.Metadata.UserinfoEncryptedResponseEnc
	}
	if encAlg == "" {
		return raw, nil
	}
	headerBytes, err := crypto.ParseJWEHeader(raw)
	if err != nil {
		return "", oidc.NewRPError("validator: malformed JWE").WithParent(err)
	}
	var header struct {
		Alg string `json:"alg"`
		Enc string `json:"enc"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return "", oidc.NewRPError("validator: malformed JWE header").WithParent(err)
	}
	if header.Alg != encAlg || header.Enc != encEnc {
		return "", oidc.NewRPError("validator: JWE alg/enc %q/%q does not match configured %q/%q", header.Alg, header.Enc, encAlg, encEnc)
	}

	var rawKey any
	if strings.HasPrefix(encAlg, "RSA") || strings.HasPrefix(encAlg, "ECDH") {
		key, err := c.privateKeyForAlg(encAlg)
		if err != nil {
			return "", err
		}
		rawKey = key.Key
	} else {
		key, err := c.symmetricKey(encEnc)
		if err != nil {
			return "", err
		}
		rawKey = key.Key
	}

	payload, _, err := crypto.Decrypt(raw, rawKey)
	if err != nil {
		return "", oidc.NewRPError("validator: JWE decryption failed").WithParent(err)
	}
	return string(payload), nil
}

// checkIssuer implements step 5: iss must equal the issuer's asserted
// value, substituting "{tenantid}" from the token's tid claim for AAD
// multi-tenant issuers.
func (c *Client) checkIssuer(claims oidc.Claims) error {
	expected := c.Issuer.Issuer()
	if c.Metadata.AADIssuerTemplate != "" {
		expected = strings.ReplaceAll(c.Metadata.AADIssuerTemplate, "{tenantid}", claims.GetTenantID())
	}
	if claims.GetIssuer() != expected {
		return oidc.NewRPError("validator: iss mismatch, expected %q, got %q", expected, claims.GetIssuer())
	}
	return nil
}

// checkTimestamps implements step 6.
func checkTimestamps(claims oidc.Claims, tolerance time.Duration) error {
	now := time.Now()
	if iat, ok := claims.GetIssuedAt(); ok {
		if iat.After(now.Add(tolerance)) {
			return oidc.NewRPError("validator: iat is in the future")
		}
	}
	if nbf, ok := claims.GetNotBefore(); ok {
		if nbf.After(now.Add(tolerance)) {
			return oidc.NewRPError("validator: nbf is in the future")
		}
	}
	exp, ok := claims.GetExpiration()
	if !ok {
		return nil
	}
	if !exp.After(now.Add(-tolerance)) {
		return oidc.NewRPError("validator: token is expired")
	}
	return nil
}

// checkAuthTime implements step 7.
func (c *Client) checkAuthTime(claims oidc.Claims, maxAge *time.Duration) error {
	if maxAge == nil && !c.Metadata.RequireAuthTime {
		return nil
	}
	authTime, ok := claims.GetAuthTime()
	if !ok {
		return oidc.NewRPError("validator: auth_time is required but missing")
	}
	if maxAge != nil {
		deadline := authTime.Add(*maxAge)
		if deadline.Before(time.Now().Add(-c.Metadata.ClockTolerance)) {
			return oidc.NewRPError("validator: auth_time + max_age has elapsed")
		}
	}
	return nil
}

// checkNonce implements step 8.
func checkNonce(claims oidc.Claims, expected *string) error {
	if expected == nil {
		return nil
	}
	if claims.GetNonce() != *expected {
		return oidc.NewRPError("validator: nonce mismatch, expected %q, got %q", *expected, claims.GetNonce())
	}
	return nil
}

// checkAudience implements step 9.
func (c *Client) checkAudience(claims oidc.Claims) error {
	aud := claims.GetAudience()
	azp := claims.GetAuthorizedParty()
	if len(aud) > 1 && azp == "" {
		return oidc.NewRPError("validator: azp is required when aud has more than one member")
	}
	found := false
	for _, a := range aud {
		if a == c.Metadata.ClientID {
			found = true
			break
		}
	}
	if !found {
		return oidc.NewRPError("validator: aud does not contain client_id %q", c.Metadata.ClientID)
	}
	if azp != "" && azp != c.Metadata.ClientID {
		return oidc.NewRPError("validator: azp %q does not match client_id %q", azp, c.Metadata.ClientID)
	}
	return nil
}

// checkHashClaims implements step 10.
func checkHashClaims(claims oidc.Claims, alg jose.SignatureAlgorithm, vctx oidc.ValidationContext, opts ValidateOptions) error {
	switch vctx {
	case oidc.ContextAuthorization:
		if opts.AccessToken != "" {
			if err := verifyHash(claims.GetAccessTokenHash(), opts.AccessToken, alg, true, "at_hash"); err != nil {
				return err
			}
		}
		if opts.Code != "" {
			if err := verifyHash(claims.GetCodeHash(), opts.Code, alg, true, "c_hash"); err != nil {
				return err
			}
		}
		if opts.State != "" {
			if err := verifyHash(claims.GetStateHash(), opts.State, alg, false, "s_hash"); err != nil {
				return err
			}
		}
	case oidc.ContextToken:
		if claims.Has("at_hash") && opts.AccessToken != "" {
			if err := verifyHash(claims.GetAccessTokenHash(), opts.AccessToken, alg, false, "at_hash"); err != nil {
				return err
			}
		}
		if claims.Has("c_hash") && opts.Code != "" {
			if err := verifyHash(claims.GetCodeHash(), opts.Code, alg, false, "c_hash"); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyHash(claimValue, artifact string, alg jose.SignatureAlgorithm, mandatory bool, name string) error {
	if claimValue == "" {
		if mandatory {
			return oidc.NewRPError("validator: %s is required but missing", name)
		}
		return nil
	}
	expected, err := crypto.ClaimHash(artifact, alg)
	if err != nil {
		return oidc.NewRPError("validator: cannot compute %s", name).WithParent(err)
	}
	if expected != claimValue {
		return oidc.NewRPError("validator: %s mismatch", name)
	}
	return nil
}

// verifySignature implements step 11: alg "none" short-circuits, HS*
// derives the symmetric key, otherwise the verification key comes from
// the issuer's JWKS. Every failure returns a fresh copy of the generic
// ErrInvalidSignature (same message, equal under errors.Is) that carries
// the underlying error as its Parent.
func (c *Client) verifySignature(ctx context.Context, raw, alg, kid string) error {
	if alg == "none" {
		return nil
	}
	var rawKey any
	if strings.HasPrefix(alg, "HS") {
		key, err := c.symmetricKey(alg)
		if err != nil {
			return oidc.NewInvalidSignatureError(err)
		}
		rawKey = key.Key
	} else {
		key, err := c.Issuer.Key(ctx, jose.Header{Algorithm: alg, KeyID: kid})
		if err != nil {
			return oidc.NewInvalidSignatureError(err)
		}
		rawKey = key.Key
	}
	if _, err := crypto.Verify(raw, rawKey); err != nil {
		return oidc.NewInvalidSignatureError(err)
	}
	return nil
}
