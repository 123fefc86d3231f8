// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/bodhi-app/bodhi/db"
	"github.com/bodhi-app/bodhi/hub"
	"github.com/bodhi-app/bodhi/llamasrv"
	"github.com/bodhi-app/bodhi/openai"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestListModelsProjectsAliases(t *testing.T) {
	h, store := newTestHandlers(t)
	_, err := store.CreateAlias(context.Background(), db.Alias{Alias: "llama3", Repo: "meta/llama3", Filename: "llama3.gguf"})
	require.NoError(t, err)

	c, rec := testContext(http.MethodGet, "/v1/models", nil)
	h.listModels(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body openai.ModelsListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "list", body.Object)
	require.Len(t, body.Data, 1)
	require.Equal(t, "llama3", body.Data[0].ID)
	require.Equal(t, "bodhi", body.Data[0].OwnedBy)
}

func TestGetModelNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodGet, "/v1/models/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.getModel(c)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body openai.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "model_not_found", body.Error.Code)
	require.Equal(t, "invalid_request_error", body.Error.Type)
	require.Equal(t, "model", body.Error.Param)
}

func TestChatCompletionsRejectsMissingModel(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/v1/chat/completions", []byte(`{"messages":[]}`))
	h.chatCompletions(c)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionsUnknownModel(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"ghost","messages":[]}`))
	h.chatCompletions(c)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatCompletionsAliasNotReadyIsConflict(t *testing.T) {
	h, store := newTestHandlers(t)
	_, err := store.CreateAlias(context.Background(), db.Alias{Alias: "llama3", Repo: "meta/llama3", Filename: "llama3.gguf"})
	require.NoError(t, err)
	h.d.Manager = llamasrv.NewManager(&fakeResolver{err: hub.ErrAliasNotReady}, "/bin/true", t.TempDir())

	c, rec := testContext(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"llama3","messages":[]}`))
	h.chatCompletions(c)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body openai.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "model_not_downloaded", body.Error.Code)
}

func TestEmbeddingsUnknownModel(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/v1/embeddings", []byte(`{"model":"ghost","input":["hi"]}`))
	h.embeddings(c)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
