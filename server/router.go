// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"github.com/bodhi-app/bodhi/auth"
	"github.com/bodhi-app/bodhi/db"
	"github.com/bodhi-app/bodhi/hub"
	"github.com/bodhi-app/bodhi/llamasrv"
	"github.com/bodhi-app/bodhi/secrets"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// Version is stamped by the build (see cmd/bodhi) and reported at
// /bodhi/v1/info.
var Version = "dev"

// Deps is everything the route tree needs to build its handlers. One Deps
// is built once at startup and closed over by every handler.
type Deps struct {
	Store     db.Store
	Hub       *hub.Hub
	Puller    *hub.Downloader
	Manager   *llamasrv.Manager
	Pipeline  *auth.Pipeline
	Secrets   *secrets.Accessor
	AuthProxy *AuthServerClient
	Tracer    trace.Tracer
}

// New builds the full gin.Engine: gin.Recovery, then tracing and CORS on
// every route, then per-group auth, matching spec.md §4.2's fixed
// tracing -> CORS -> session -> auth -> handler order (Pipeline.Resolve
// folds the session-cookie lookup into the auth step).
func New(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	tracer := d.Tracer
	if tracer == nil {
		tracer = defaultTracer()
	}
	r.Use(tracingMiddleware(tracer), corsMiddleware())

	h := &handlers{d: d}

	// Public
	r.GET("/ping", h.ping)
	r.GET("/health", h.ping)
	r.GET("/bodhi/v1/info", h.info)
	r.POST("/bodhi/v1/auth/initiate", h.authInitiate)
	r.POST("/bodhi/v1/auth/callback", h.authCallback)

	// OptionalAuth
	optional := r.Group("/")
	optional.Use(authMiddleware(d.Pipeline, auth.OptionalAuth))
	optional.POST("/bodhi/v1/logout", h.logout)

	// UserApi: OpenAI- and Ollama-compatible surfaces
	userAPI := r.Group("/")
	userAPI.Use(authMiddleware(d.Pipeline, auth.UserApi))
	userAPI.GET("/v1/models", h.listModels)
	userAPI.GET("/v1/models/:id", h.getModel)
	userAPI.POST("/v1/chat/completions", h.chatCompletions)
	userAPI.POST("/v1/embeddings", h.embeddings)
	userAPI.GET("/api/tags", h.ollamaTags)
	userAPI.POST("/api/show", h.ollamaShow)
	userAPI.POST("/api/chat", h.ollamaChat)

	// PowerUserSession: alias/pull management, token lifecycle
	powerUser := r.Group("/bodhi/v1")
	powerUser.Use(authMiddleware(d.Pipeline, auth.PowerUserSession))
	powerUser.GET("/models", h.listAliases)
	powerUser.POST("/models", h.createAlias)
	powerUser.GET("/models/:alias", h.getAlias)
	powerUser.PUT("/models/:alias", h.updateAlias)
	powerUser.DELETE("/models/:alias", h.deleteAlias)
	powerUser.POST("/models/pull", h.pullModel)
	powerUser.GET("/tokens", h.listTokens)
	powerUser.POST("/tokens", h.createToken)
	powerUser.PUT("/tokens/:id", h.updateToken)

	// ManagerSession: user admin, access-request approvals
	manager := r.Group("/bodhi/v1")
	manager.Use(authMiddleware(d.Pipeline, auth.ManagerSession))
	manager.GET("/users", h.listUsers)
	manager.GET("/access-requests", h.listAccessRequests)
	manager.GET("/access-requests/pending", h.listPendingAccessRequests)
	manager.POST("/access-requests/:id/approve", h.approveAccessRequest)

	return r
}
