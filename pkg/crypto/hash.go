package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	jose "github.com/go-jose/go-jose/v4"
)

// HashAlgForJWSAlg returns the digest matching a JWS signature algorithm's
// bit length, used to compute at_hash/c_hash/s_hash (spec.md §4.4 step 10,
// GLOSSARY).
func HashAlgForJWSAlg(alg jose.SignatureAlgorithm) (func() hash.Hash, error) {
	switch alg {
	case jose.RS256, jose.ES256, jose.PS256, jose.HS256:
		return sha256.New, nil
	case jose.RS384, jose.ES384, jose.PS384, jose.HS384:
		return sha512.New384, nil
	case jose.RS512, jose.ES512, jose.PS512, jose.HS512:
		return sha512.New, nil
	case jose.EdDSA:
		// No published digest for EdDSA at_hash; SHA-512 per the
		// ongoing OpenID discussion the ecosystem has settled on.
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported signing algorithm %q for hash claim", alg)
	}
}

// ClaimHash computes the left-most-half, base64url-encoded hash of value
// using the digest that matches alg's bit length, as required for
// at_hash/c_hash/s_hash.
func ClaimHash(value string, alg jose.SignatureAlgorithm) (string, error) {
	newHash, err := HashAlgForJWSAlg(alg)
	if err != nil {
		return "", err
	}
	h := newHash()
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
