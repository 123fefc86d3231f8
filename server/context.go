// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package server assembles Bodhi's gin.Engine: route tree, the fixed
// outer-to-inner middleware order (tracing, CORS, session, auth), and the
// single boundary that converts a *berrors.Error into an OpenAI-shaped
// HTTP response.
package server

import (
	"github.com/bodhi-app/bodhi/auth"
	"github.com/gin-gonic/gin"
)

const authContextKey = "bodhi.auth"

// setAuthContext attaches the resolved principal to c, readable by any
// inner handler via AuthContext.
func setAuthContext(c *gin.Context, ac auth.Context) {
	c.Set(authContextKey, ac)
}

// AuthContext returns the principal auth.Pipeline resolved for this
// request. Routes with tier Public that never run the auth middleware see
// the zero value (Kind: KindNone).
func AuthContext(c *gin.Context) auth.Context {
	v, ok := c.Get(authContextKey)
	if !ok {
		return auth.Context{Kind: auth.KindNone}
	}
	ac, _ := v.(auth.Context)
	return ac
}
