// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"net/http"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/gin-gonic/gin"
)

// handlers closes over Deps so every route has access to the services it
// needs without reaching for global state, mirroring the teacher's single
// *Server struct holding every dependency.
type handlers struct {
	d Deps
}

// pongBody is the shared shape of /ping and /health, per spec.md §6.
type pongBody struct {
	Message string `json:"message"`
}

func (h *handlers) ping(c *gin.Context) {
	c.JSON(http.StatusOK, pongBody{Message: "pong"})
}

// infoBody is the /bodhi/v1/info response shape.
type infoBody struct {
	Version string `json:"version"`
	Status  string `json:"status"`
	Authz   bool   `json:"authz"`
}

func (h *handlers) info(c *gin.Context) {
	status := "ready"
	if inst, err := h.d.Store.GetAppInstance(c.Request.Context()); err != nil {
		writeError(c, berrors.Internalf(err, "load app instance"))
		return
	} else if inst != nil {
		status = string(inst.Status)
	}
	c.JSON(http.StatusOK, infoBody{
		Version: Version,
		Status:  status,
		Authz:   h.d.AuthProxy != nil,
	})
}
