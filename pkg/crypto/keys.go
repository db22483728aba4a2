// Package crypto wraps the JOSE operations the Relying Party core needs:
// symmetric key derivation from a client_secret, JWS signing/verification,
// JWE encryption/decryption, and claim-hash computation.
package crypto

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	jose "github.com/go-jose/go-jose/v4"
)

var encBitsPattern = regexp.MustCompile(`^A(\d+)(?:GCM|GCMKW|CBC-HS\d+)$`)

// EncBits reports the key size, in bits, implied by a JWE `enc`/`alg` name
// such as "A128GCM", "A256GCMKW", or "A128CBC-HS256", and whether the name
// matches one of those shapes at all (spec.md §4.5).
func EncBits(name string) (bits int, ok bool) {
	m := encBitsPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DeriveSymmetricKey derives the content-encryption/MAC key for the given
// `enc` or `alg` name from client_secret, per spec.md §4.5:
//
//   - for A{n}GCM / A{n}GCMKW / A{n}CBC-HS{m}: SHA-256(client_secret)
//     truncated to n bits.
//   - for everything else (HS* MAC, generic symmetric use): the raw UTF-8
//     bytes of client_secret.
//
// The caller is responsible for memoizing the result per client; this
// function is pure.
func DeriveSymmetricKey(clientSecret, name string) (jose.JSONWebKey, error) {
	if clientSecret == "" {
		return jose.JSONWebKey{}, fmt.Errorf("crypto: client_secret is required to derive a symmetric key for %q", name)
	}
	if bits, ok := EncBits(name); ok {
		sum := sha256.Sum256([]byte(clientSecret))
		n := bits / 8
		if n > len(sum) {
			return jose.JSONWebKey{}, fmt.Errorf("crypto: requested %d-bit key exceeds SHA-256 digest size", bits)
		}
		return jose.JSONWebKey{Key: sum[:n], Algorithm: name, Use: "enc"}, nil
	}
	return jose.JSONWebKey{Key: []byte(clientSecret), Algorithm: name, Use: "sig"}, nil
}

// KeyCache memoizes derived symmetric keys per client, as spec.md §3 and
// §5 require: an idempotent single-writer/multi-reader table keyed by
// deterministic inputs. Construct it with NewKeyCache; a zero KeyCache has
// no client_secret, so every Get returns an error.
type KeyCache struct {
	clientSecret string
	cache        sync.Map
}

func NewKeyCache(clientSecret string) *KeyCache {
	return &KeyCache{clientSecret: clientSecret}
}

// Get returns the memoized symmetric key for name, deriving and storing it
// on first use. Concurrent calls for the same name are harmless because
// the derivation is pure (spec.md §5).
func (c *KeyCache) Get(name string) (jose.JSONWebKey, error) {
	if v, ok := c.cache.Load(name); ok {
		return v.(jose.JSONWebKey), nil
	}
	key, err := DeriveSymmetricKey(c.clientSecret, name)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	actual, _ := c.cache.LoadOrStore(name, key)
	return actual.(jose.JSONWebKey), nil
}
