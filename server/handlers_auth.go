// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"net/http"
	"net/url"

	"github.com/bodhi-app/bodhi/auth"
	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/db"
	"github.com/gin-gonic/gin"
)

// authInitiateRequest is the POST /bodhi/v1/auth/initiate body.
type authInitiateRequest struct {
	RedirectURI string `json:"redirect_uri" binding:"required"`
}

// authInitiateResponse carries the URL the client should navigate to at
// the external auth server, and the opaque state value placed in that
// URL. authCallback does not receive or check this value.
type authInitiateResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// authInitiate serves POST /bodhi/v1/auth/initiate, starting the OAuth
// code flow against the configured auth server.
func (h *handlers) authInitiate(c *gin.Context) {
	if h.d.AuthProxy == nil {
		writeError(c, berrors.New(berrors.InvalidAppState, "auth_not_configured", "no auth server is configured"))
		return
	}
	var req authInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", err.Error()))
		return
	}
	state := auth.NewSessionID()
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {h.d.AuthProxy.ClientID},
		"redirect_uri":  {req.RedirectURI},
		"state":         {state},
	}
	c.JSON(http.StatusOK, authInitiateResponse{
		AuthorizationURL: h.d.AuthProxy.BaseURL + "/oauth/authorize?" + q.Encode(),
		State:            state,
	})
}

// authCallbackRequest is the POST /bodhi/v1/auth/callback body: the
// authorization code and redirect_uri the client exchanges. It has no
// state field, so the state authInitiate issued is not checked here.
type authCallbackRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirect_uri" binding:"required"`
}

// authCallbackResponse is the session summary returned alongside the
// Set-Cookie header.
type authCallbackResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// authCallback serves POST /bodhi/v1/auth/callback, completing the code
// exchange and establishing a server-side session.
func (h *handlers) authCallback(c *gin.Context) {
	if h.d.AuthProxy == nil {
		writeError(c, berrors.New(berrors.InvalidAppState, "auth_not_configured", "no auth server is configured"))
		return
	}
	var req authCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", err.Error()))
		return
	}
	ctx := c.Request.Context()
	access, refresh, userID, username, role, expiresAt, err := h.d.AuthProxy.ExchangeCode(ctx, req.Code, req.RedirectURI)
	if err != nil {
		writeError(c, berrors.Wrap(berrors.Authentication, "code_exchange_failed", "authorization code exchange failed", err))
		return
	}
	session, err := h.d.Store.CreateSession(ctx, db.Session{
		UserID:       userID,
		Username:     username,
		Role:         role,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		writeError(c, berrors.Internalf(err, "create session for user %q", userID))
		return
	}
	h.d.Pipeline.Sessions.SetCookie(c.Writer, c.Request, session.ID)
	c.JSON(http.StatusOK, authCallbackResponse{UserID: userID, Username: username, Role: role})
}

// logout serves POST /bodhi/v1/logout. It always clears the local cookie
// and deletes the session row, regardless of whether the best-effort
// revoke at the auth server succeeds.
func (h *handlers) logout(c *gin.Context) {
	ctx := c.Request.Context()
	if sid, status := h.d.Pipeline.Sessions.CookieValue(c.Request); status == auth.CookieValid {
		if s, err := h.d.Store.GetSession(ctx, sid); err == nil && s != nil {
			if h.d.AuthProxy != nil {
				_ = h.d.AuthProxy.Revoke(ctx, s.RefreshToken)
			}
			_ = h.d.Store.DeleteSession(ctx, sid)
		}
	}
	h.d.Pipeline.Sessions.ClearCookie(c.Writer, c.Request)
	c.Status(http.StatusNoContent)
}

// listUsers serves GET /bodhi/v1/users, proxying the external auth
// server's admin API: Bodhi's own DB has no Users table (see
// AuthServerClient's doc comment).
func (h *handlers) listUsers(c *gin.Context) {
	if h.d.AuthProxy == nil {
		writeError(c, berrors.New(berrors.InvalidAppState, "auth_not_configured", "no auth server is configured"))
		return
	}
	users, err := h.d.AuthProxy.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, berrors.Internalf(err, "list users"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}

func (h *handlers) listAccessRequests(c *gin.Context) {
	if h.d.AuthProxy == nil {
		writeError(c, berrors.New(berrors.InvalidAppState, "auth_not_configured", "no auth server is configured"))
		return
	}
	reqs, err := h.d.AuthProxy.ListAccessRequests(c.Request.Context())
	if err != nil {
		writeError(c, berrors.Internalf(err, "list access requests"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reqs})
}

func (h *handlers) listPendingAccessRequests(c *gin.Context) {
	if h.d.AuthProxy == nil {
		writeError(c, berrors.New(berrors.InvalidAppState, "auth_not_configured", "no auth server is configured"))
		return
	}
	reqs, err := h.d.AuthProxy.ListPendingAccessRequests(c.Request.Context())
	if err != nil {
		writeError(c, berrors.Internalf(err, "list pending access requests"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reqs})
}

func (h *handlers) approveAccessRequest(c *gin.Context) {
	if h.d.AuthProxy == nil {
		writeError(c, berrors.New(berrors.InvalidAppState, "auth_not_configured", "no auth server is configured"))
		return
	}
	id := c.Param("id")
	approved, err := h.d.AuthProxy.ApproveAccessRequest(c.Request.Context(), id)
	if err != nil {
		writeError(c, berrors.Internalf(err, "approve access request %q", id))
		return
	}
	c.JSON(http.StatusOK, approved)
}
