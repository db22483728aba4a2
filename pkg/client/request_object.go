package client

import (
	"context"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/oidc-rp/rpcore/pkg/crypto"
	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// requestObjectLifetime is the JAR payload's iat-to-exp window (spec.md
// §4.5); the AS is expected to reject anything wider.
const requestObjectLifetime = 300 * time.Second

// RequestObject builds a JWT-secured authorization request (JAR, RFC 9101)
// carrying params as its payload, per spec.md §4.5: iss/aud/client_id/jti/
// iat/exp are filled in, caller-supplied entries in params override them,
// the result is signed under request_object_signing_alg (default "none"),
// and encrypted under request_object_encryption_alg/enc when configured.
func (c *Client) RequestObject(ctx context.Context, params map[string]any) (result string, err error) {
	ctx, span := Tracer.Start(ctx, "RequestObject")
	defer span.End()
	logFlowStart(ctx, "request_object")
	defer func() { logFlowEnd(ctx, "request_object", err) }()

	now := time.Now()
	payload := map[string]any{
		"iss":       c.Metadata.ClientID,
		"aud":       c.Issuer.Issuer(),
		"client_id": c.Metadata.ClientID,
		"jti":       uuid.NewString(),
		"iat":       now.Unix(),
		"exp":       now.Add(requestObjectLifetime).Unix(),
	}
	for k, v := range params {
		payload[k] = v
	}

	signAlg := c.Metadata.RequestObjectSigningAlg
	if signAlg == "" {
		signAlg = "none"
	}

	var signed string
	if signAlg == "none" {
		signed, err = crypto.SignNone(payload)
	} else {
		signer, serr := c.signerForAlg(jose.SignatureAlgorithm(signAlg))
		if serr != nil {
			return "", serr
		}
		signed, err = crypto.Sign(payload, signer)
	}
	if err != nil {
		return "", err
	}

	if c.Metadata.RequestObjectEncryptionAlg == "" {
		return signed, nil
	}
	return c.encryptRequestObject(ctx, signed)
}

// encryptRequestObject wraps an already-signed JWT request object in a JWE
// with cty "JWT", selecting an asymmetric key from the issuer's JWKS for
// RSA*/ECDH* algs or a client_secret-derived symmetric key otherwise
// (spec.md §4.5).
func (c *Client) encryptRequestObject(ctx context.Context, signed string) (string, error) {
	encAlg := c.Metadata.RequestObjectEncryptionAlg
	encEnc := c.Metadata.RequestObjectEncryptionEnc
	if encEnc == "" {
		encEnc = "A128CBC-HS256"
	}

	var rawKey any
	if strings.HasPrefix(encAlg, "RSA") || strings.HasPrefix(encAlg, "ECDH") {
		key, err := c.Issuer.Key(ctx, jose.Header{Algorithm: encAlg})
		if err != nil {
			return "", oidc.NewRPError("request object: no issuer encryption key for alg %q", encAlg).WithParent(err)
		}
		rawKey = key.Key
	} else {
		key, err := c.symmetricKey(encEnc)
		if err != nil {
			return "", err
		}
		rawKey = key.Key
	}

	return crypto.Encrypt([]byte(signed), jose.KeyAlgorithm(encAlg), jose.ContentEncryption(encEnc), rawKey, "JWT")
}
