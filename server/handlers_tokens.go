// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"net/http"

	"github.com/bodhi-app/bodhi/auth"
	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/db"
	"github.com/gin-gonic/gin"
)

// listTokens serves GET /bodhi/v1/tokens, scoped to the caller's own
// tokens: PowerUserSession only ever reaches here via a session principal,
// so AuthContext(c).Session.UserID is always populated.
func (h *handlers) listTokens(c *gin.Context) {
	userID := AuthContext(c).Session.UserID
	tokens, err := h.d.Store.ListApiTokens(c.Request.Context(), userID)
	if err != nil {
		writeError(c, berrors.Internalf(err, "list tokens for user %q", userID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tokens})
}

// createTokenRequest is the POST /bodhi/v1/tokens body.
type createTokenRequest struct {
	Name   string   `json:"name" binding:"required"`
	Scopes []string `json:"scopes"`
}

// createTokenResponse embeds the one-time-visible bearer string alongside
// the stored row: it is never retrievable again after this response.
type createTokenResponse struct {
	db.ApiToken
	Token string `json:"token"`
}

// createToken serves POST /bodhi/v1/tokens, grounded on the teacher's
// one-time-visible-token response shape.
func (h *handlers) createToken(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", err.Error()))
		return
	}
	bearer, prefix, hash, err := auth.GenerateApiToken()
	if err != nil {
		writeError(c, berrors.Internalf(err, "generate api token"))
		return
	}
	userID := AuthContext(c).Session.UserID
	created, err := h.d.Store.CreateApiToken(c.Request.Context(), db.ApiToken{
		UserID:      userID,
		Name:        req.Name,
		TokenPrefix: prefix,
		TokenHash:   hash,
		Scopes:      req.Scopes,
		Status:      db.TokenActive,
	})
	if err != nil {
		writeError(c, berrors.Internalf(err, "create api token for user %q", userID))
		return
	}
	c.JSON(http.StatusCreated, createTokenResponse{ApiToken: *created, Token: bearer})
}

// updateTokenRequest is the PUT /bodhi/v1/tokens/{id} body: a token's
// name and active/inactive status are the only caller-mutable fields, the
// bearer secret itself is immutable once issued.
type updateTokenRequest struct {
	Name   string        `json:"name"`
	Status db.TokenStatus `json:"status"`
}

func (h *handlers) updateToken(c *gin.Context) {
	id := c.Param("id")
	var req updateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", err.Error()))
		return
	}
	updated, err := h.d.Store.UpdateApiToken(c.Request.Context(), id, db.ApiToken{
		Name:   req.Name,
		Status: req.Status,
	})
	if err != nil {
		writeError(c, berrors.Internalf(err, "update api token %q", id))
		return
	}
	if updated == nil {
		writeError(c, berrors.NotFoundf("token_not_found", "token %q not found", id))
		return
	}
	c.JSON(http.StatusOK, updated)
}
