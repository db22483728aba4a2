package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/oidc-rp/rpcore/pkg/crypto"
	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// claimSourcesOf extracts _claim_names/_claim_sources from a decoded
// claims payload (spec.md §4.6), tolerating their absence.
func claimSourcesOf(claims oidc.Claims) (names map[string]string, sources map[string]oidc.ClaimSource, err error) {
	namesRaw, ok := claims["_claim_names"]
	if !ok {
		return nil, nil, nil
	}
	namesBytes, err := json.Marshal(namesRaw)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(namesBytes, &names); err != nil {
		return nil, nil, err
	}
	sourcesRaw, ok := claims["_claim_sources"]
	if !ok {
		return names, nil, nil
	}
	sourcesBytes, err := json.Marshal(sourcesRaw)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(sourcesBytes, &sources); err != nil {
		return nil, nil, err
	}
	return names, sources, nil
}

// pruneClaimSources removes the consumed entries from _claim_names and,
// once nothing references a source, drops it from _claim_sources. When
// both maps end up empty, the keys themselves are removed (spec.md §4.6).
func pruneClaimSources(claims oidc.Claims, names map[string]string, sources map[string]oidc.ClaimSource, consumed map[string]bool) {
	for claimName := range names {
		if consumed[claimName] {
			delete(names, claimName)
		}
	}
	referenced := map[string]bool{}
	for _, sourceName := range names {
		referenced[sourceName] = true
	}
	for sourceName := range sources {
		if !referenced[sourceName] {
			delete(sources, sourceName)
		}
	}
	if len(names) == 0 {
		delete(claims, "_claim_names")
	} else {
		claims["_claim_names"] = names
	}
	if len(sources) == 0 {
		delete(claims, "_claim_sources")
	} else {
		claims["_claim_sources"] = sources
	}
}

// keyForExternalIssuer resolves the verification key for a JWT claiming
// iss: the current Issuer when it matches, an already-registered Issuer,
// or a freshly discovered one, caching the discovery (spec.md §4.6).
func (c *Client) keyForExternalIssuer(ctx context.Context, iss string, header jose.Header) (any, error) {
	if iss == c.Issuer.Issuer() {
		if strings.HasPrefix(string(header.Algorithm), "HS") {
			key, err := c.symmetricKey(string(header.Algorithm))
			if err != nil {
				return nil, err
			}
			return key.Key, nil
		}
		key, err := c.Issuer.Key(ctx, header)
		if err != nil {
			return nil, err
		}
		return key.Key, nil
	}
	issuer, ok := c.IssuerRegistry.Get(iss)
	if !ok {
		var err error
		issuer, err = c.IssuerRegistry.Discover(ctx, iss, c.HTTPClient)
		if err != nil {
			return nil, err
		}
	}
	key, err := issuer.Key(ctx, header)
	if err != nil {
		return nil, err
	}
	return key.Key, nil
}

// verifyExternalJWT verifies a distributed/aggregated claims JWT and
// returns its (now-trusted) payload.
func (c *Client) verifyExternalJWT(ctx context.Context, jwtStr string) (oidc.Claims, error) {
	headerBytes, payloadBytes, err := crypto.ParsePayload(jwtStr)
	if err != nil {
		return nil, oidc.NewRPError("validator: malformed claims JWT").WithParent(err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, oidc.NewRPError("validator: malformed claims JWT header").WithParent(err)
	}
	var claims oidc.Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, oidc.NewRPError("validator: malformed claims JWT payload").WithParent(err)
	}
	key, err := c.keyForExternalIssuer(ctx, claims.GetIssuer(), jose.Header{Algorithm: header.Alg, KeyID: header.Kid})
	if err != nil {
		return nil, oidc.NewInvalidSignatureError(err)
	}
	if _, err := crypto.Verify(jwtStr, key); err != nil {
		return nil, oidc.NewInvalidSignatureError(err)
	}
	return claims, nil
}

// UnpackAggregatedClaims resolves every _claim_sources entry that carries
// an inline JWT, verifying and merging its claims into claims in place
// (spec.md §4.6). A verification failure is re-raised carrying the
// offending source name; already-merged claims are not rolled back.
func (c *Client) UnpackAggregatedClaims(ctx context.Context, claims oidc.Claims) (err error) {
	logFlowStart(ctx, "unpack_aggregated_claims")
	defer func() { logFlowEnd(ctx, "unpack_aggregated_claims", err) }()

	names, sources, err := claimSourcesOf(claims)
	if err != nil {
		return err
	}
	consumed := map[string]bool{}
	for claimName, sourceName := range names {
		source, ok := sources[sourceName]
		if !ok || source.JWT == "" {
			continue
		}
		verified, verr := c.verifyExternalJWT(ctx, source.JWT)
		if verr != nil {
			return oidc.NewRPError("validator: failed to verify aggregated claim source %q", sourceName).WithParent(verr)
		}
		if v, ok := verified[claimName]; ok {
			claims[claimName] = v
		}
		consumed[claimName] = true
	}
	pruneClaimSources(claims, names, sources, consumed)
	return nil
}

// FetchDistributedClaims resolves every _claim_sources entry that carries
// an endpoint, fetching it with a Bearer token (the source's own
// access_token, or tokens[sourceName]), and merges the verified claims in
// place (spec.md §4.6). Sources are fetched concurrently and joined
// (spec.md §9): each source is independent, so there is no ordering
// requirement between them.
func (c *Client) FetchDistributedClaims(ctx context.Context, claims oidc.Claims, tokens map[string]string) (err error) {
	ctx, span := Tracer.Start(ctx, "FetchDistributedClaims")
	defer span.End()
	logFlowStart(ctx, "fetch_distributed_claims")
	defer func() { logFlowEnd(ctx, "fetch_distributed_claims", err) }()

	names, sources, err := claimSourcesOf(claims)
	if err != nil {
		return err
	}

	type result struct {
		claimName  string
		sourceName string
		verified   oidc.Claims
		err        error
	}
	var wg sync.WaitGroup
	resultsCh := make(chan result, len(names))
	for claimName, sourceName := range names {
		source, ok := sources[sourceName]
		if !ok || source.Endpoint == "" {
			continue
		}
		token := source.AccessToken
		if token == "" {
			token = tokens[sourceName]
		}
		wg.Add(1)
		go func(claimName, sourceName, endpoint, token string) {
			defer wg.Done()
			verified, err := c.fetchDistributedSource(ctx, endpoint, token)
			resultsCh <- result{claimName: claimName, sourceName: sourceName, verified: verified, err: err}
		}(claimName, sourceName, source.Endpoint, token)
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	consumed := map[string]bool{}
	var firstErr error
	for res := range resultsCh {
		if res.err != nil {
			if firstErr == nil {
				firstErr = oidc.NewRPError("validator: failed to fetch distributed claim source %q", res.sourceName).WithParent(res.err)
			}
			continue
		}
		if v, ok := res.verified[res.claimName]; ok {
			claims[res.claimName] = v
		}
		consumed[res.claimName] = true
	}
	pruneClaimSources(claims, names, sources, consumed)
	return firstErr
}

func (c *Client) fetchDistributedSource(ctx context.Context, endpoint, token string) (oidc.Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/jwt")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseASError(body, resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/jwt") {
		return nil, oidc.NewRPError("client: expected application/jwt distributed claim response, got %q", resp.Header.Get("Content-Type"))
	}
	return c.verifyExternalJWT(ctx, string(body))
}
