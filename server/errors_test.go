// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorShapesBerrorsError(t *testing.T) {
	c, rec := testContext(http.MethodGet, "/v1/models/ghost", nil)
	writeError(c, notFoundModel("ghost"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "model_not_found", body.Error.Code)
	require.Equal(t, "invalid_request_error", body.Error.Type)
	require.NotNil(t, body.Error.Param)
	require.Equal(t, "model", *body.Error.Param)
	require.Contains(t, body.Error.Message, "ghost")
}

func TestWriteErrorTreatsPlainErrorAsInternal(t *testing.T) {
	c, rec := testContext(http.MethodGet, "/v1/models", nil)
	writeError(c, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, berrors.InternalServer.String(), body.Error.Type)
}
