// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"log/slog"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/internal"
	"github.com/gin-gonic/gin"
)

// errorBody is the OpenAI-shaped error envelope spec.md §4.2/§6 names.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    string  `json:"code"`
	Param   *string `json:"param"`
}

// writeError is the single conversion boundary from a service error to an
// HTTP response: every handler that fails calls this instead of shaping
// its own body. Errors that are not a *berrors.Error are treated as
// InternalServer and logged with request-scoped context, since
// propagation policy forbids swallowing anything silently.
func writeError(c *gin.Context, err error) {
	berr, ok := berrors.As(err)
	if !ok {
		berr = berrors.Internalf(err, "unexpected error")
	}
	if berr.Kind == berrors.InternalServer || berr.Kind == berrors.Unknown {
		internal.Logger(c.Request.Context()).Error("request failed",
			slog.String("path", c.Request.URL.Path), slog.String("code", berr.Code), slog.Any("err", err))
	}
	var param *string
	if berr.Param != "" {
		param = &berr.Param
	}
	c.AbortWithStatusJSON(berr.Kind.HTTPStatus(), errorBody{Error: errorDetail{
		Message: berr.Message,
		Type:    berr.WireType(),
		Code:    berr.Code,
		Param:   param,
	}})
}

// notFoundModel builds the exact body shape S3 names for an unknown model
// id/alias: HTTP 404 (berrors.NotFound's status) but OpenAI's own
// "invalid_request_error" type rather than "not_found_error", matching how
// the real OpenAI API reports an unknown model.
func notFoundModel(id string) *berrors.Error {
	return berrors.New(berrors.NotFound, "model_not_found", "The model '"+id+"' does not exist").
		WithParam("model").
		WithType(berrors.BadRequest.String())
}
