// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/db"
)

// ErrSessionCookieInvalid signals that a request carried a session cookie
// that failed to verify or decode, as opposed to no cookie at all. Callers
// with access to an http.ResponseWriter (server/middleware.go) must clear
// the cookie when they see this error.
var ErrSessionCookieInvalid = errors.New("auth: session cookie failed to decode")

// RefreshSkew is how close to expiry a session's access token must be
// before the pipeline attempts a refresh-token exchange.
const RefreshSkew = 2 * time.Minute

// TokenRefresher exchanges a session's refresh token for a fresh access
// token at the configured auth server.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, expiresAt time.Time, err error)
}

// Pipeline resolves one request to a Context, following the fixed
// credential-detection order: ApiToken prefix, then ExternalApp bearer,
// then session cookie.
type Pipeline struct {
	Store     db.Store
	JWKS      *JWKSSource
	Issuer    string
	Refresher TokenRefresher
	Sessions  SessionStore
}

// Resolve inspects r for credentials and returns the matching Context.
// A request with no credentials at all resolves to Context{Kind:
// KindNone} with a nil error; it is the caller's job to reject that for
// any non-Public/OptionalAuth tier.
func (p *Pipeline) Resolve(r *http.Request) (Context, error) {
	ctx := r.Context()
	if bearer, ok := bearerToken(r); ok {
		if LooksLikeApiToken(bearer) {
			return p.resolveApiToken(ctx, bearer)
		}
		return p.resolveExternalApp(ctx, bearer)
	}
	sid, status := p.Sessions.CookieValue(r)
	switch status {
	case CookieValid:
		return p.resolveSession(ctx, sid)
	case CookieInvalid:
		return Context{Kind: KindNone}, ErrSessionCookieInvalid
	default:
		return Context{Kind: KindNone}, nil
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	if tok == "" {
		return "", false
	}
	return tok, true
}

func (p *Pipeline) resolveApiToken(ctx context.Context, bearer string) (Context, error) {
	prefix, secret, ok := SplitBearerToken(bearer)
	if !ok {
		return Context{}, berrors.New(berrors.Authentication, "malformed_bearer_token", "malformed bearer token")
	}
	tok, err := p.Store.GetApiTokenByHash(ctx, HashSecret(secret))
	if err != nil {
		return Context{}, fmt.Errorf("auth: lookup api token: %w", err)
	}
	if tok == nil || tok.TokenPrefix != prefix {
		return Context{}, berrors.New(berrors.Authentication, "unknown_api_token", "unknown api token")
	}
	if tok.Status == db.TokenInactive {
		return Context{}, berrors.New(berrors.Authentication, "api_token_inactive", "api token is inactive")
	}
	if !VerifySecret(secret, tok.TokenHash) {
		return Context{}, berrors.New(berrors.Authentication, "invalid_api_token", "invalid api token")
	}
	role := ScopeUser
	for _, s := range tok.Scopes {
		if r, ok := ParseTokenScopeClaim(s); ok && Scope(r) > role {
			role = Scope(r)
		}
	}
	if err := p.Store.UpdateApiTokenLastUsed(ctx, tok.ID); err != nil {
		return Context{}, fmt.Errorf("auth: record token use: %w", err)
	}
	return Context{Kind: KindApiToken, ApiToken: ApiTokenPrincipal{
		UserID: tok.UserID,
		Role:   TokenScope(role),
		Token:  bearer,
	}}, nil
}

func (p *Pipeline) resolveExternalApp(ctx context.Context, bearer string) (Context, error) {
	if p.JWKS == nil {
		return Context{}, berrors.New(berrors.Authentication, "external_app_not_configured", "external app tokens are not configured")
	}
	principal, err := ValidateExternalAppToken(ctx, p.JWKS, bearer, p.Issuer)
	if err != nil {
		return Context{}, berrors.Wrap(berrors.Authentication, "invalid_external_app_token", "invalid external app token", err)
	}
	return Context{Kind: KindExternalApp, ExternalApp: principal}, nil
}

func (p *Pipeline) resolveSession(ctx context.Context, sessionID string) (Context, error) {
	s, err := p.Store.GetSession(ctx, sessionID)
	if err != nil {
		return Context{}, fmt.Errorf("auth: load session: %w", err)
	}
	if s == nil || s.UserID == "" {
		return Context{}, berrors.New(berrors.Authentication, "session_no_user", "session has no user")
	}
	if p.Refresher != nil && time.Until(s.ExpiresAt) < RefreshSkew {
		access, refresh, expiresAt, err := p.Refresher.Refresh(ctx, s.RefreshToken)
		if err != nil {
			return Context{}, berrors.Wrap(berrors.Authentication, "session_refresh_failed", "session refresh failed, please log in again", err)
		}
		s.AccessToken, s.RefreshToken, s.ExpiresAt = access, refresh, expiresAt
		if _, err := p.Store.UpdateSession(ctx, s.ID, *s); err != nil {
			return Context{}, fmt.Errorf("auth: persist refreshed session: %w", err)
		}
	}
	role, _ := ParseUserScopeClaim("scope_user_" + s.Role)
	return Context{Kind: KindSession, Session: SessionPrincipal{
		UserID:   s.UserID,
		Username: s.Username,
		Role:     role,
		Token:    s.AccessToken,
	}}, nil
}

// Enforce checks resolved against tier, returning a typed error suitable
// for the router's single error-conversion boundary: missing credentials
// on a non-public tier map to Authentication (401), present-but-
// insufficient-scope maps to Forbidden (403).
func Enforce(resolved Context, tier Tier) error {
	if tier == Public || tier == OptionalAuth {
		return nil
	}
	if resolved.Kind == KindNone {
		return berrors.New(berrors.Authentication, "authentication_required", "authentication required")
	}
	if !resolved.SatisfiesTier(tier) {
		return berrors.New(berrors.Forbidden, "insufficient_scope", "insufficient scope for this route")
	}
	return nil
}
