// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"errors"

	"github.com/bodhi-app/bodhi/auth"
	"github.com/bodhi-app/bodhi/berrors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const requestIDHeader = "X-Request-Id"

// tracingMiddleware is the outermost layer: it opens a span for the whole
// request and stamps a request ID, generating one with google/uuid when
// the caller didn't supply one.
func tracingMiddleware(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, reqID)

		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath())
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.String("request.id", reqID),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", reqID)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

// defaultTracer returns a no-op-backed tracer when no SDK TracerProvider
// was installed by main, so handlers always have a valid trace.Tracer to
// call without a nil check.
func defaultTracer() trace.Tracer {
	return otel.Tracer("github.com/bodhi-app/bodhi/server")
}

// corsMiddleware allows any origin/method/header and disallows credentials
// on the CORS layer itself — Bodhi's credentials travel as an
// Authorization header or a SameSite=Lax cookie, never via
// Access-Control-Allow-Credentials, per spec.md §6.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// authMiddleware resolves the request's credentials via pipeline and
// enforces tier, aborting with the OpenAI-shaped error body on failure.
// It is gin's session+auth layer combined, since Pipeline.Resolve already
// folds in the session-cookie lookup.
func authMiddleware(pipeline *auth.Pipeline, tier auth.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, err := pipeline.Resolve(c.Request)
		if errors.Is(err, auth.ErrSessionCookieInvalid) {
			pipeline.Sessions.ClearCookie(c.Writer, c.Request)
			writeError(c, berrors.New(berrors.Authentication, "session_decode_failed", "session could not be verified"))
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		if err := auth.Enforce(resolved, tier); err != nil {
			writeError(c, err)
			return
		}
		setAuthContext(c, resolved)
		c.Next()
	}
}
