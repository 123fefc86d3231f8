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
	"github.com/bodhi-app/bodhi/openai"
	"github.com/stretchr/testify/require"
)

func TestOllamaTagsProjectsAliases(t *testing.T) {
	h, store := newTestHandlers(t)
	_, err := store.CreateAlias(context.Background(), db.Alias{Alias: "llama3", Repo: "meta/llama3", Filename: "llama3.gguf"})
	require.NoError(t, err)

	c, rec := testContext(http.MethodGet, "/api/tags", nil)
	h.ollamaTags(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body openai.OllamaTagsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Models, 1)
	require.Equal(t, "llama3", body.Models[0].Name)
}

func TestOllamaShowUnknownModel(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/api/show", []byte(`{"name":"ghost"}`))
	h.ollamaShow(c)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOllamaShowKnownModel(t *testing.T) {
	h, store := newTestHandlers(t)
	_, err := store.CreateAlias(context.Background(), db.Alias{Alias: "llama3", Repo: "meta/llama3", Filename: "llama3.gguf"})
	require.NoError(t, err)

	c, rec := testContext(http.MethodPost, "/api/show", []byte(`{"name":"llama3"}`))
	h.ollamaShow(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body openai.OllamaShowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "gguf", body.Details.Format)
}

func TestOllamaChatRejectsMissingModel(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/api/chat", []byte(`{"messages":[]}`))
	h.ollamaChat(c)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOllamaChatUnknownModel(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/api/chat", []byte(`{"model":"ghost","messages":[]}`))
	h.ollamaChat(c)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
