// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/bodhi-app/bodhi/internal"
)

// AuthServerClient is the thin proxy to the external OAuth/user-admin auth
// server (the Keycloak-style realm excluded from this module's scope — see
// spec.md §1). Bodhi's own data model has no Users or AccessRequest table;
// §4.5's AppInstance row only records this instance's OAuth client
// registration against that server, so the ManagerSession user-admin and
// access-request routes, and the OAuth code exchange itself, all go through
// here rather than a local repository.
type AuthServerClient struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// NewAuthServerClient builds a client talking to baseURL with the
// registered OAuth client credentials.
func NewAuthServerClient(baseURL, clientID, clientSecret string) *AuthServerClient {
	return &AuthServerClient{BaseURL: baseURL, ClientID: clientID, ClientSecret: clientSecret}
}

// JWKSURL is the JSON Web Key Set endpoint auth.JWKSSource fetches from.
func (c *AuthServerClient) JWKSURL() string {
	return c.BaseURL + "/.well-known/jwks.json"
}

// codeExchangeRequest is the authorization_code grant body.
type codeExchangeRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// refreshExchangeRequest is the refresh_token grant body.
type refreshExchangeRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// tokenResponse is the shared shape of both grant responses.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
}

// ExchangeCode completes the OAuth authorization_code flow started by
// authInitiate, returning the session fields to persist.
func (c *AuthServerClient) ExchangeCode(ctx context.Context, code, redirectURI string) (accessToken, refreshToken, userID, username, role string, expiresAt time.Time, err error) {
	var resp tokenResponse
	err = internal.JSONPost(ctx, c.BaseURL+"/oauth/token", codeExchangeRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  redirectURI,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
	}, &resp)
	if err != nil {
		return "", "", "", "", "", time.Time{}, fmt.Errorf("authserver: exchange code: %w", err)
	}
	return resp.AccessToken, resp.RefreshToken, resp.UserID, resp.Username, resp.Role,
		time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

// Refresh implements auth.TokenRefresher against the configured auth
// server's refresh_token grant.
func (c *AuthServerClient) Refresh(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, expiresAt time.Time, err error) {
	var resp tokenResponse
	err = internal.JSONPost(ctx, c.BaseURL+"/oauth/token", refreshExchangeRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
	}, &resp)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("authserver: refresh token: %w", err)
	}
	return resp.AccessToken, resp.RefreshToken, time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

// Revoke invalidates a session's tokens at the auth server on logout. A
// failure here is logged by the caller, not surfaced to the client: the
// local session cookie is always cleared regardless.
func (c *AuthServerClient) Revoke(ctx context.Context, refreshToken string) error {
	var resp struct{}
	return internal.JSONPost(ctx, c.BaseURL+"/oauth/revoke", map[string]string{
		"token":         refreshToken,
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
	}, &resp)
}

// User is the external auth server's projection of an account, surfaced
// read-only through the ManagerSession user-admin routes.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// AccessRequest is a pending or resolved request for a new user to join
// this Bodhi instance, approved or rejected by a Manager.
type AccessRequest struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ListUsers proxies GET /bodhi/v1/users to the auth server's admin API.
func (c *AuthServerClient) ListUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.adminGet(ctx, "/admin/users", &resp); err != nil {
		return nil, fmt.Errorf("authserver: list users: %w", err)
	}
	return resp.Users, nil
}

// ListAccessRequests proxies GET /bodhi/v1/access-requests.
func (c *AuthServerClient) ListAccessRequests(ctx context.Context) ([]AccessRequest, error) {
	var resp struct {
		Requests []AccessRequest `json:"requests"`
	}
	if err := c.adminGet(ctx, "/admin/access-requests", &resp); err != nil {
		return nil, fmt.Errorf("authserver: list access requests: %w", err)
	}
	return resp.Requests, nil
}

// ListPendingAccessRequests proxies GET /bodhi/v1/access-requests/pending.
func (c *AuthServerClient) ListPendingAccessRequests(ctx context.Context) ([]AccessRequest, error) {
	var resp struct {
		Requests []AccessRequest `json:"requests"`
	}
	if err := c.adminGet(ctx, "/admin/access-requests?status=pending", &resp); err != nil {
		return nil, fmt.Errorf("authserver: list pending access requests: %w", err)
	}
	return resp.Requests, nil
}

// ApproveAccessRequest proxies POST /bodhi/v1/access-requests/{id}/approve.
func (c *AuthServerClient) ApproveAccessRequest(ctx context.Context, id string) (*AccessRequest, error) {
	var resp AccessRequest
	if err := internal.JSONPost(ctx, c.BaseURL+"/admin/access-requests/"+id+"/approve", struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("authserver: approve access request %q: %w", id, err)
	}
	return &resp, nil
}

func (c *AuthServerClient) adminGet(ctx context.Context, path string, out any) error {
	return internal.JSONGet(ctx, c.BaseURL+path, out)
}
