// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwksRefreshInterval bounds how long a fetched key set is trusted before
// JWKSSource fetches it again, mirroring the teacher's
// copilotTokenExpiryBuffer-style bounded-TTL cache.
const jwksRefreshInterval = 10 * time.Minute

// jwkSet is the standard JWK Set document shape.
type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSSource fetches and caches an auth server's JSON Web Key Set,
// refreshing it lazily once jwksRefreshInterval has elapsed — the same
// mutex-guarded cached-value shape as the teacher's CopilotTokenSource,
// generalized from a bearer-token exchange to a public-key fetch.
type JWKSSource struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewJWKSSource fetches keys from url on demand.
func NewJWKSSource(url string) *JWKSSource {
	return &JWKSSource{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Key returns the RSA public key for kid, refreshing the cached set if
// it is stale or does not yet contain kid.
func (s *JWKSSource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[kid]; ok && time.Since(s.fetchedAt) < jwksRefreshInterval {
		return k, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return nil, err
	}
	k, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("auth: no JWKS key for kid %q", kid)
	}
	return k, nil
}

// refreshLocked re-fetches the key set. Callers must hold s.mu.
func (s *JWKSSource) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read JWKS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}
	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("parse JWKS response: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			return fmt.Errorf("parse JWK %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	s.keys = keys
	s.fetchedAt = time.Now()
	return nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

// ExternalAppClaims is the subset of claims Bodhi validates from an
// ExternalApp JWT per spec.md's "exp, iss, azp" check plus its scope
// claim.
type ExternalAppClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp"`
	Scope           string `json:"scope"`
	AccessRequestID string `json:"access_request_id,omitempty"`
}

// ValidateExternalAppToken validates tok's signature against source,
// checks exp/iss/azp, and maps its scope claim to a UserScope.
func ValidateExternalAppToken(ctx context.Context, source *JWKSSource, tok, expectIssuer string) (ExternalAppPrincipal, error) {
	claims := &ExternalAppClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return source.Key(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !parsed.Valid {
		return ExternalAppPrincipal{}, fmt.Errorf("auth: invalid external app token: %w", err)
	}
	if expectIssuer != "" && claims.Issuer != expectIssuer {
		return ExternalAppPrincipal{}, fmt.Errorf("auth: unexpected issuer %q", claims.Issuer)
	}
	if claims.AuthorizedParty == "" {
		return ExternalAppPrincipal{}, fmt.Errorf("auth: external app token missing azp")
	}
	role, ok := ParseUserScopeClaim(claims.Scope)
	if !ok {
		return ExternalAppPrincipal{}, fmt.Errorf("auth: unrecognized scope claim %q", claims.Scope)
	}
	return ExternalAppPrincipal{
		UserID:           claims.Subject,
		Role:             role,
		Token:            tok,
		ExternalAppToken: tok,
		AppClientID:      claims.AuthorizedParty,
		AccessRequestID:  claims.AccessRequestID,
	}, nil
}
