package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-rp/rpcore/pkg/crypto"
	"github.com/oidc-rp/rpcore/pkg/oidc"
)

func newDistributedClaimsFixture(t *testing.T) (*Client, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub := jose.JSONWebKey{Key: key.Public(), KeyID: "kid-1", Algorithm: "RS256", Use: "sig"}
	issuer := &oidc.StaticIssuer{
		Config: &oidc.DiscoveryConfiguration{Issuer: "https://issuer.example"},
		JWKS:   []jose.JSONWebKey{pub},
	}
	metadata, err := NewClientMetadata("client-1", WithRedirectURI("https://rp.example/cb"))
	require.NoError(t, err)
	c, err := NewClient(metadata, issuer, nil)
	require.NoError(t, err)
	return c, key
}

func signExternalJWT(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	priv := jose.JSONWebKey{Key: key, KeyID: "kid-1", Algorithm: "RS256", Use: "sig"}
	signer, err := crypto.NewSigner(jose.RS256, priv)
	require.NoError(t, err)
	token, err := crypto.Sign(claims, signer)
	require.NoError(t, err)
	return token
}

func TestUnpackAggregatedClaims(t *testing.T) {
	tests := []struct {
		name    string
		claims  func(key *rsa.PrivateKey) oidc.Claims
		wantErr bool
		check   func(t *testing.T, claims oidc.Claims)
	}{
		{
			name: "merges matched claims and prunes bookkeeping keys",
			claims: func(key *rsa.PrivateKey) oidc.Claims {
				aggregated := signExternalJWT(t, key, map[string]any{
					"iss":              "https://issuer.example",
					"shipping_address": "123 Main St",
				})
				return oidc.Claims{
					"sub":            "user-1",
					"_claim_names":   map[string]any{"shipping_address": "src1"},
					"_claim_sources": map[string]any{"src1": map[string]any{"JWT": aggregated}},
				}
			},
			check: func(t *testing.T, claims oidc.Claims) {
				assert.Equal(t, "123 Main St", claims["shipping_address"])
				_, hasNames := claims["_claim_names"]
				_, hasSources := claims["_claim_sources"]
				assert.False(t, hasNames)
				assert.False(t, hasSources)
			},
		},
		{
			name:   "no sources is a no-op",
			claims: func(key *rsa.PrivateKey) oidc.Claims { return oidc.Claims{"sub": "user-1"} },
			check: func(t *testing.T, claims oidc.Claims) {
				assert.Equal(t, "user-1", claims["sub"])
			},
		},
		{
			name: "fails on a tampered signature",
			claims: func(key *rsa.PrivateKey) oidc.Claims {
				aggregated := signExternalJWT(t, key, map[string]any{
					"iss":              "https://issuer.example",
					"shipping_address": "123 Main St",
				})
				tampered := aggregated[:len(aggregated)-4] + "abcd"
				return oidc.Claims{
					"_claim_names":   map[string]any{"shipping_address": "src1"},
					"_claim_sources": map[string]any{"src1": map[string]any{"JWT": tampered}},
				}
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, key := newDistributedClaimsFixture(t)
			claims := tt.claims(key)
			err := c.UnpackAggregatedClaims(context.Background(), claims)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, claims)
		})
	}
}

func TestFetchDistributedClaims(t *testing.T) {
	tests := []struct {
		name    string
		names   map[string]any
		sources map[string]func(url string) map[string]any
		wantErr bool
		check   func(t *testing.T, claims oidc.Claims)
	}{
		{
			name:  "joins concurrent sources",
			names: map[string]any{"email": "srcA", "phone_number": "srcB"},
			sources: map[string]func(url string) map[string]any{
				"srcA": func(url string) map[string]any { return map[string]any{"endpoint": url + "/claims-a"} },
				"srcB": func(url string) map[string]any { return map[string]any{"endpoint": url + "/claims-b"} },
			},
			check: func(t *testing.T, claims oidc.Claims) {
				assert.Equal(t, "user@example.com", claims["email"])
				assert.Equal(t, "+15551234", claims["phone_number"])
				_, hasNames := claims["_claim_names"]
				assert.False(t, hasNames)
			},
		},
		{
			name: "reports the first error but keeps successes",
			names: map[string]any{"email": "srcOK", "phone_number": "srcFail"},
			sources: map[string]func(url string) map[string]any{
				"srcOK":   func(url string) map[string]any { return map[string]any{"endpoint": url + "/claims-ok"} },
				"srcFail": func(url string) map[string]any { return map[string]any{"endpoint": url + "/claims-fail"} },
			},
			wantErr: true,
			check: func(t *testing.T, claims oidc.Claims) {
				assert.Equal(t, "user@example.com", claims["email"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, key := newDistributedClaimsFixture(t)
			mux := http.NewServeMux()
			mux.HandleFunc("/claims-a", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/jwt")
				_, _ = w.Write([]byte(signExternalJWT(t, key, map[string]any{"iss": "https://issuer.example", "email": "user@example.com"})))
			})
			mux.HandleFunc("/claims-b", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/jwt")
				_, _ = w.Write([]byte(signExternalJWT(t, key, map[string]any{"iss": "https://issuer.example", "phone_number": "+15551234"})))
			})
			mux.HandleFunc("/claims-ok", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/jwt")
				_, _ = w.Write([]byte(signExternalJWT(t, key, map[string]any{"iss": "https://issuer.example", "email": "user@example.com"})))
			})
			mux.HandleFunc("/claims-fail", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})
			server := httptest.NewServer(mux)
			defer server.Close()
			c.HTTPClient = server.Client()

			sources := map[string]any{}
			for name, build := range tt.sources {
				sources[name] = build(server.URL)
			}
			claims := oidc.Claims{
				"_claim_names":   tt.names,
				"_claim_sources": sources,
			}

			err := c.FetchDistributedClaims(context.Background(), claims, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			tt.check(t, claims)
		})
	}
}
