// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/llamasrv"
	"github.com/bodhi-app/bodhi/openai"
	"github.com/gin-gonic/gin"
)

// ollamaTags serves GET /api/tags, the Ollama-compatible model listing.
// It projects the same alias table listModels reads, in Ollama's shape.
func (h *handlers) ollamaTags(c *gin.Context) {
	aliases, err := h.d.Store.ListAliases(c.Request.Context())
	if err != nil {
		writeError(c, berrors.Internalf(err, "list aliases"))
		return
	}
	models := make([]openai.OllamaModel, 0, len(aliases))
	for _, a := range aliases {
		models = append(models, openai.OllamaModel{
			Name:       a.Alias,
			Model:      a.Alias,
			ModifiedAt: a.UpdatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, openai.OllamaTagsResponse{Models: models})
}

// ollamaShow serves POST /api/show, describing one alias in Ollama's
// modelfile-ish shape. Values not tracked by the alias table (Modelfile,
// Template) are left blank rather than fabricated.
func (h *handlers) ollamaShow(c *gin.Context) {
	var req openai.OllamaShowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		writeError(c, berrors.New(berrors.BadRequest, "missing_name", "request body must name a model").WithParam("name"))
		return
	}
	a, err := h.d.Store.GetAlias(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, berrors.Internalf(err, "load alias %q", req.Name))
		return
	}
	if a == nil {
		writeError(c, notFoundModel(req.Name))
		return
	}
	c.JSON(http.StatusOK, openai.OllamaShowResponse{
		Details: openai.OllamaModelDetail{Format: "gguf"},
	})
}

// ollamaChat serves POST /api/chat. The inference worker only speaks the
// OpenAI chat-completion wire shape, so the request is translated in both
// directions here rather than forwarded byte-for-byte as the OpenAI
// surface does. Only the non-streaming exchange is supported: Ollama's
// streaming reply is newline-delimited JSON, not SSE, and translating one
// worker SSE frame at a time into an NDJSON line is future work, not
// required by any caller today.
func (h *handlers) ollamaChat(c *gin.Context) {
	var req openai.OllamaChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Model == "" {
		writeError(c, berrors.New(berrors.BadRequest, "missing_model", "request body must name a model").WithParam("model"))
		return
	}

	ctx := c.Request.Context()
	alias, err := h.d.Store.GetAlias(ctx, req.Model)
	if err != nil {
		writeError(c, berrors.Internalf(err, "load alias %q", req.Model))
		return
	}
	if alias == nil {
		writeError(c, notFoundModel(req.Model))
		return
	}
	if outcome, err := h.d.Manager.EnsureLoaded(ctx, *alias); outcome != llamasrv.Ok {
		writeError(c, outcomeError(outcome, err, req.Model))
		return
	}

	body, err := json.Marshal(openai.ChatCompletionRequest{Model: req.Model, Messages: req.Messages})
	if err != nil {
		writeError(c, berrors.Internalf(err, "encode chat completion request"))
		return
	}
	var sink bytes.Buffer
	outcome, err := h.d.Manager.Complete(ctx, "/v1/chat/completions", body, &sink)
	if outcome != llamasrv.Ok {
		if outcome == llamasrv.Canceled {
			return
		}
		writeError(c, outcomeError(outcome, err, req.Model))
		return
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(sink.Bytes(), &completion); err != nil {
		writeError(c, berrors.Internalf(err, "decode worker chat completion response"))
		return
	}
	var message openai.Message
	if len(completion.Choices) > 0 {
		message = completion.Choices[0].Message
	}
	c.JSON(http.StatusOK, openai.OllamaChatResponse{
		Model:     req.Model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Message:   message,
		Done:      true,
	})
}
