// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/db"
	"github.com/stretchr/testify/require"
)

type stubSessions struct {
	cookie  string
	has     bool
	invalid bool
}

func (s stubSessions) CookieValue(r *http.Request) (string, CookieStatus) {
	if s.invalid {
		return "", CookieInvalid
	}
	if !s.has {
		return "", CookieAbsent
	}
	return s.cookie, CookieValid
}
func (stubSessions) SetCookie(http.ResponseWriter, *http.Request, string) {}
func (stubSessions) ClearCookie(http.ResponseWriter, *http.Request)       {}

func newPipeline(t *testing.T) (*Pipeline, db.Store) {
	t.Helper()
	store := db.NewMemory()
	return &Pipeline{Store: store, Sessions: stubSessions{}}, store
}

func TestResolveNoCredentialsIsKindNone(t *testing.T) {
	p, _ := newPipeline(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	ctx, err := p.Resolve(req)
	require.NoError(t, err)
	require.Equal(t, KindNone, ctx.Kind)
}

func TestResolveApiTokenSuccess(t *testing.T) {
	p, store := newPipeline(t)
	bearer, prefix, hash, err := GenerateApiToken()
	require.NoError(t, err)
	_, err = store.CreateApiToken(context.Background(), db.ApiToken{
		UserID: "user-1", TokenPrefix: prefix, TokenHash: hash,
		Scopes: []string{"scope_token_power_user"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	ctx, err := p.Resolve(req)
	require.NoError(t, err)
	require.Equal(t, KindApiToken, ctx.Kind)
	require.Equal(t, "user-1", ctx.ApiToken.UserID)
	require.True(t, ctx.ApiToken.Role.Satisfies(ScopePowerUser))
	require.False(t, ctx.ApiToken.Role.Satisfies(ScopeAdmin))
}

func TestResolveApiTokenRejectsInactive(t *testing.T) {
	p, store := newPipeline(t)
	bearer, prefix, hash, err := GenerateApiToken()
	require.NoError(t, err)
	created, err := store.CreateApiToken(context.Background(), db.ApiToken{
		UserID: "user-1", TokenPrefix: prefix, TokenHash: hash,
	})
	require.NoError(t, err)
	_, err = store.UpdateApiToken(context.Background(), created.ID, db.ApiToken{Status: db.TokenInactive})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	_, err = p.Resolve(req)
	require.Error(t, err)
	berr, ok := berrors.As(err)
	require.True(t, ok)
	require.Equal(t, berrors.Authentication, berr.Kind)
}

func TestResolveApiTokenRejectsWrongSecret(t *testing.T) {
	p, store := newPipeline(t)
	_, prefix, hash, err := GenerateApiToken()
	require.NoError(t, err)
	_, err = store.CreateApiToken(context.Background(), db.ApiToken{
		UserID: "user-1", TokenPrefix: prefix, TokenHash: hash,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+prefix+"_wrongsecretwrongsecretwrong")
	_, err = p.Resolve(req)
	require.Error(t, err)
}

func TestResolveSessionSuccess(t *testing.T) {
	p, store := newPipeline(t)
	s, err := store.CreateSession(context.Background(), db.Session{
		UserID: "user-1", Username: "alice", Role: "manager",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	p.Sessions = stubSessions{cookie: s.ID, has: true}

	req := httptest.NewRequest(http.MethodGet, "/ui/home", nil)
	ctx, err := p.Resolve(req)
	require.NoError(t, err)
	require.Equal(t, KindSession, ctx.Kind)
	require.Equal(t, "alice", ctx.Session.Username)
	require.True(t, ctx.Session.Role.Satisfies(ScopeManager))
}

func TestResolveInvalidCookieReturnsSentinel(t *testing.T) {
	p, _ := newPipeline(t)
	p.Sessions = stubSessions{invalid: true}

	req := httptest.NewRequest(http.MethodGet, "/ui/home", nil)
	ctx, err := p.Resolve(req)
	require.ErrorIs(t, err, ErrSessionCookieInvalid)
	require.Equal(t, KindNone, ctx.Kind)
}

type stubRefresher struct {
	called bool
	err    error
}

func (s *stubRefresher) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
	s.called = true
	if s.err != nil {
		return "", "", time.Time{}, s.err
	}
	return "new-access", "new-refresh", time.Now().Add(time.Hour), nil
}

func TestResolveSessionRefreshesNearExpiry(t *testing.T) {
	p, store := newPipeline(t)
	s, err := store.CreateSession(context.Background(), db.Session{
		UserID: "user-1", Role: "user", RefreshToken: "old-refresh",
		ExpiresAt: time.Now().Add(time.Second),
	})
	require.NoError(t, err)
	p.Sessions = stubSessions{cookie: s.ID, has: true}
	refresher := &stubRefresher{}
	p.Refresher = refresher

	req := httptest.NewRequest(http.MethodGet, "/ui/home", nil)
	_, err = p.Resolve(req)
	require.NoError(t, err)
	require.True(t, refresher.called)

	updated, err := store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "new-access", updated.AccessToken)
}

func TestEnforcePublicAlwaysPasses(t *testing.T) {
	require.NoError(t, Enforce(Context{Kind: KindNone}, Public))
	require.NoError(t, Enforce(Context{Kind: KindNone}, OptionalAuth))
}

func TestEnforceRejectsAnonymousOnUserApi(t *testing.T) {
	err := Enforce(Context{Kind: KindNone}, UserApi)
	require.Error(t, err)
	berr, ok := berrors.As(err)
	require.True(t, ok)
	require.Equal(t, berrors.Authentication, berr.Kind)
}

func TestEnforceRejectsInsufficientScope(t *testing.T) {
	ctx := Context{Kind: KindSession, Session: SessionPrincipal{Role: UserScope(ScopeUser)}}
	err := Enforce(ctx, ManagerSession)
	require.Error(t, err)
	berr, ok := berrors.As(err)
	require.True(t, ok)
	require.Equal(t, berrors.Forbidden, berr.Kind)
}

func TestEnforceApiTokenNeverSatisfiesSessionTiers(t *testing.T) {
	ctx := Context{Kind: KindApiToken, ApiToken: ApiTokenPrincipal{Role: TokenScope(ScopeAdmin)}}
	require.Error(t, Enforce(ctx, PowerUserSession))
	require.Error(t, Enforce(ctx, ManagerSession))
	require.NoError(t, Enforce(ctx, UserApi))
}
