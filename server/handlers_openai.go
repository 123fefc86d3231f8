// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/bodhi-app/bodhi/berrors"
	"github.com/bodhi-app/bodhi/db"
	"github.com/bodhi-app/bodhi/llamasrv"
	"github.com/bodhi-app/bodhi/openai"
	"github.com/gin-gonic/gin"
)

// listModels serves GET /v1/models, deriving the OpenAI-shaped listing
// from the alias table per spec.md §6.
func (h *handlers) listModels(c *gin.Context) {
	aliases, err := h.d.Store.ListAliases(c.Request.Context())
	if err != nil {
		writeError(c, berrors.Internalf(err, "list aliases"))
		return
	}
	data := make([]openai.Model, 0, len(aliases))
	for _, a := range aliases {
		data = append(data, modelFromAlias(a))
	}
	c.JSON(http.StatusOK, openai.ModelsListResponse{Object: "list", Data: data})
}

// getModel serves GET /v1/models/{id}. Per P4, the returned id is always
// the alias name itself.
func (h *handlers) getModel(c *gin.Context) {
	id := c.Param("id")
	a, err := h.d.Store.GetAlias(c.Request.Context(), id)
	if err != nil {
		writeError(c, berrors.Internalf(err, "load alias %q", id))
		return
	}
	if a == nil {
		writeError(c, notFoundModel(id))
		return
	}
	c.JSON(http.StatusOK, modelFromAlias(*a))
}

func modelFromAlias(a db.Alias) openai.Model {
	return openai.Model{ID: a.Alias, Object: "model", Created: a.CreatedAt.Unix(), OwnedBy: "bodhi"}
}

// peekModel decodes just enough of a chat/embeddings request body to know
// which alias to load and whether the caller asked for a stream, without
// re-marshaling: the worker receives body byte-for-byte, untouched.
type peekModel struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// chatCompletions serves POST /v1/chat/completions.
func (h *handlers) chatCompletions(c *gin.Context) {
	h.forwardCompletion(c, "/v1/chat/completions")
}

// embeddings serves POST /v1/embeddings. OpenAI embeddings requests never
// stream; the request is still forwarded byte-for-byte.
func (h *handlers) embeddings(c *gin.Context) {
	h.forwardCompletion(c, "/v1/embeddings")
}

func (h *handlers) forwardCompletion(c *gin.Context, path string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, berrors.New(berrors.BadRequest, "invalid_body", "failed to read request body"))
		return
	}
	var peek peekModel
	if err := json.Unmarshal(body, &peek); err != nil || peek.Model == "" {
		writeError(c, berrors.New(berrors.BadRequest, "missing_model", "request body must name a model").WithParam("model"))
		return
	}

	ctx := c.Request.Context()
	alias, err := h.d.Store.GetAlias(ctx, peek.Model)
	if err != nil {
		writeError(c, berrors.Internalf(err, "load alias %q", peek.Model))
		return
	}
	if alias == nil {
		writeError(c, notFoundModel(peek.Model))
		return
	}

	if outcome, err := h.d.Manager.EnsureLoaded(ctx, *alias); outcome != llamasrv.Ok {
		writeError(c, outcomeError(outcome, err, peek.Model))
		return
	}

	if peek.Stream {
		if _, err := openai.NewSSEWriter(c.Writer); err != nil {
			writeError(c, berrors.Internalf(err, "response writer does not support streaming"))
			return
		}
		outcome, err := h.d.Manager.Complete(ctx, path, body, c.Writer)
		if outcome != llamasrv.Ok {
			if outcome == llamasrv.Canceled {
				return
			}
			writeError(c, outcomeError(outcome, err, peek.Model))
		}
		return
	}

	var sink bytes.Buffer
	outcome, err := h.d.Manager.Complete(ctx, path, body, &sink)
	if outcome != llamasrv.Ok {
		if outcome == llamasrv.Canceled {
			return
		}
		writeError(c, outcomeError(outcome, err, peek.Model))
		return
	}
	c.Data(http.StatusOK, "application/json", sink.Bytes())
}

// outcomeError maps a non-Ok llamasrv.Outcome to the typed error the
// router's error boundary converts to an HTTP response.
func outcomeError(outcome llamasrv.Outcome, cause error, model string) error {
	switch outcome {
	case llamasrv.AliasNotReady:
		return berrors.New(berrors.Conflict, "model_not_downloaded", "model '"+model+"' is not downloaded yet").WithParam("model")
	case llamasrv.NotReady:
		return berrors.Wrap(berrors.ServiceUnavailable, "worker_not_ready", "inference worker is not ready", cause)
	case llamasrv.ReloadFailed:
		return berrors.Wrap(berrors.ServiceUnavailable, "worker_start_failed", "inference worker failed to start", cause)
	case llamasrv.UpstreamError:
		return berrors.Wrap(berrors.ServiceUnavailable, "worker_upstream_error", "inference worker request failed", cause)
	default:
		return berrors.Internalf(cause, "unexpected completion outcome %s", outcome)
	}
}
