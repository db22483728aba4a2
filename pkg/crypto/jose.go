package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// Sign JSON-encodes object and produces a JWS compact serialization with
// signer. Used for client-assertion JWTs and signed request objects.
func Sign(object any, signer jose.Signer) (string, error) {
	payload, err := json.Marshal(object)
	if err != nil {
		return "", err
	}
	return SignPayload(payload, signer)
}

func SignPayload(payload []byte, signer jose.Signer) (string, error) {
	if signer == nil {
		return "", errors.New("crypto: missing signer")
	}
	result, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return result.CompactSerialize()
}

// SignNone produces a JWS compact serialization with alg "none" and an
// empty signature segment, for request objects whose
// request_object_signing_alg defaults to "none" (spec.md §4.5). go-jose
// refuses to construct a signer for "none" by design, so this is built by
// hand.
func SignNone(object any) (string, error) {
	payload, err := json.Marshal(object)
	if err != nil {
		return "", err
	}
	header, err := json.Marshal(map[string]string{"alg": "none"})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + ".", nil
}

// NewSigner builds a jose.Signer for the given symmetric or asymmetric
// key and algorithm, setting the key's `kid` in the JWS header when
// present.
func NewSigner(alg jose.SignatureAlgorithm, key jose.JSONWebKey) (jose.Signer, error) {
	signingKey := jose.SigningKey{Algorithm: alg, Key: key}
	opts := &jose.SignerOptions{}
	if key.KeyID != "" {
		opts = opts.WithHeader("kid", key.KeyID)
	}
	return jose.NewSigner(signingKey, opts)
}

// ParsePayload splits a three-segment JWS compact token (a five-segment JWE
// is rejected) and returns its raw, base64url-decoded header/payload
// segments without verifying anything,
// mirroring the source library's split-then-validate structure.
func ParsePayload(token string) (header, payload []byte, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, nil, fmt.Errorf("crypto: malformed JWT: expected 3 segments, got %d", len(parts))
	}
	header, err = base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: malformed JWT header: %w", err)
	}
	payload, err = base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: malformed JWT payload: %w", err)
	}
	return header, payload, nil
}

// ParseJWEHeader decodes the protected header of a 5-segment JWE compact
// serialization without decrypting anything, so a caller can check
// alg/enc before selecting a key.
func ParseJWEHeader(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return nil, fmt.Errorf("crypto: malformed JWE: expected 5 segments, got %d", len(parts))
	}
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("crypto: malformed JWE header: %w", err)
	}
	return header, nil
}

// Verify checks the JWS compact serialization's signature against key and
// returns the verified payload.
func Verify(token string, key any) ([]byte, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512,
		jose.PS256, jose.PS384, jose.PS512,
		jose.ES256, jose.ES384, jose.ES512,
		jose.HS256, jose.HS384, jose.HS512,
		jose.EdDSA,
	})
	if err != nil {
		return nil, err
	}
	return jws.Verify(key)
}

// Encrypt produces a JWE compact serialization of payload under alg/enc
// with key, optionally setting cty (used to mark encrypted request
// objects per spec.md §4.5).
func Encrypt(payload []byte, alg jose.KeyAlgorithm, enc jose.ContentEncryption, key any, cty string) (string, error) {
	opts := &jose.EncrypterOptions{}
	if cty != "" {
		opts = opts.WithContentType(jose.ContentType(cty))
	}
	encrypter, err := jose.NewEncrypter(enc, jose.Recipient{Algorithm: alg, Key: key}, opts)
	if err != nil {
		return "", err
	}
	obj, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

// Decrypt parses a JWE compact serialization and decrypts it with key,
// also returning the parsed header so the caller can re-validate alg/enc.
func Decrypt(token string, key any) (payload []byte, header jose.Header, err error) {
	jwe, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{
		jose.RSA1_5, jose.RSA_OAEP, jose.RSA_OAEP_256,
		jose.ECDH_ES, jose.ECDH_ES_A128KW, jose.ECDH_ES_A192KW, jose.ECDH_ES_A256KW,
		jose.A128GCMKW, jose.A192GCMKW, jose.A256GCMKW,
		jose.DIRECT,
	}, []jose.ContentEncryption{
		jose.A128GCM, jose.A192GCM, jose.A256GCM,
		jose.A128CBC_HS256, jose.A192CBC_HS384, jose.A256CBC_HS512,
	})
	if err != nil {
		return nil, jose.Header{}, err
	}
	payload, err = jwe.Decrypt(key)
	if err != nil {
		return nil, jose.Header{}, err
	}
	return payload, jwe.Header, nil
}
