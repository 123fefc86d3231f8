// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"net/http"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/db"
	"github.com/gin-gonic/gin"
)

// listAliases serves GET /bodhi/v1/models, the management-plane listing
// of every configured alias (as opposed to /v1/models' OpenAI shape).
func (h *handlers) listAliases(c *gin.Context) {
	aliases, err := h.d.Store.ListAliases(c.Request.Context())
	if err != nil {
		writeError(c, berrors.Internalf(err, "list aliases"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": aliases})
}

// aliasRequest is the create/update request body: every field the caller
// may set on a db.Alias, with the server assigning ID/timestamps.
type aliasRequest struct {
	Alias         string            `json:"alias" binding:"required"`
	Repo          string            `json:"repo" binding:"required"`
	Filename      string            `json:"filename" binding:"required"`
	Snapshot      string            `json:"snapshot"`
	RequestParams db.RequestParams  `json:"request_params"`
	ContextParams db.ContextParams  `json:"context_params"`
}

func (h *handlers) createAlias(c *gin.Context) {
	var req aliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", err.Error()))
		return
	}
	created, err := h.d.Store.CreateAlias(c.Request.Context(), db.Alias{
		Alias:         req.Alias,
		Repo:          req.Repo,
		Filename:      req.Filename,
		Snapshot:      req.Snapshot,
		RequestParams: req.RequestParams,
		ContextParams: req.ContextParams,
	})
	if err != nil {
		writeError(c, berrors.Internalf(err, "create alias %q", req.Alias))
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handlers) getAlias(c *gin.Context) {
	id := c.Param("alias")
	a, err := h.d.Store.GetAlias(c.Request.Context(), id)
	if err != nil {
		writeError(c, berrors.Internalf(err, "load alias %q", id))
		return
	}
	if a == nil {
		writeError(c, notFoundModel(id))
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *handlers) updateAlias(c *gin.Context) {
	id := c.Param("alias")
	var req aliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", err.Error()))
		return
	}
	updated, err := h.d.Store.UpdateAlias(c.Request.Context(), id, db.Alias{
		Alias:         req.Alias,
		Repo:          req.Repo,
		Filename:      req.Filename,
		Snapshot:      req.Snapshot,
		RequestParams: req.RequestParams,
		ContextParams: req.ContextParams,
	})
	if err != nil {
		writeError(c, berrors.Internalf(err, "update alias %q", id))
		return
	}
	if updated == nil {
		writeError(c, notFoundModel(id))
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *handlers) deleteAlias(c *gin.Context) {
	id := c.Param("alias")
	if err := h.d.Store.DeleteAlias(c.Request.Context(), id); err != nil {
		writeError(c, berrors.Internalf(err, "delete alias %q", id))
		return
	}
	c.Status(http.StatusNoContent)
}

// pullRequest is the POST /bodhi/v1/models/pull body.
type pullRequest struct {
	Repo     string `json:"repo" binding:"required"`
	Filename string `json:"filename" binding:"required"`
}

// pullModel serves POST /bodhi/v1/models/pull, kicking off (or joining) a
// download and returning its tracking row immediately: progress is polled
// separately, not streamed from this endpoint.
func (h *handlers) pullModel(c *gin.Context) {
	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", err.Error()))
		return
	}
	dl, err := h.d.Puller.Pull(c.Request.Context(), req.Repo, req.Filename)
	if err != nil {
		writeError(c, berrors.Internalf(err, "pull %s/%s", req.Repo, req.Filename))
		return
	}
	c.JSON(http.StatusAccepted, dl)
}
