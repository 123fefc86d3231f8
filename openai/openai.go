// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package openai holds the OpenAI- and Ollama-compatible wire shapes the
// HTTP router accepts and returns, plus an SSE frame codec (the router
// calls NewSSEWriter for streaming responses).
//
// This drops the teacher's dependency on github.com/maruel/genai and
// github.com/maruel/httpjson: those model a typed client calling a known
// upstream, but here the router only ever decodes a request body far
// enough to find `model`/`stream`, and the context manager forwards a
// streaming worker's SSE body byte-for-byte without decoding it at all.
// Plain encoding/json, in the same style as internal.JSONPost, covers
// both jobs.
package openai

// Message is a single OpenAI-style chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is documented at
// https://platform.openai.com/docs/api-reference/chat/create
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Seed        int       `json:"seed,omitempty"`
}

// Usage is the token-accounting block shared by every completion shape.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ChatCompletionResponse is documented at
// https://platform.openai.com/docs/api-reference/chat/object
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

// ChatCompletionChoice is one entry of ChatCompletionResponse.Choices.
type ChatCompletionChoice struct {
	Index int `json:"index"`
	// FinishReason is one of "stop", "length", "content_filter", "tool_calls".
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

// ChatCompletionStreamChunk is one decoded "data: " SSE frame's JSON
// payload for a streaming chat completion.
type ChatCompletionStreamChunk struct {
	ID      string                       `json:"id"`
	Object  string                       `json:"object"`
	Created int64                        `json:"created"`
	Model   string                       `json:"model"`
	Choices []ChatCompletionStreamChoice `json:"choices"`
}

// ChatCompletionStreamChoice is one entry of
// ChatCompletionStreamChunk.Choices.
type ChatCompletionStreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta carries the incremental content of one streamed token.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
}

// EmbeddingsRequest is documented at
// https://platform.openai.com/docs/api-reference/embeddings/create
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingsResponse is documented at
// https://platform.openai.com/docs/api-reference/embeddings/object
type EmbeddingsResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  Usage       `json:"usage"`
}

// Embedding is one entry of EmbeddingsResponse.Data.
type Embedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// Model is one entry of ModelsListResponse.Data, derived from an alias.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsListResponse is the /v1/models response shape.
type ModelsListResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorBody is the single OpenAI-shaped error envelope every failing
// handler response uses, regardless of route family.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the fields an API client matches on: Type and Code
// are stable strings, Param names the offending field when applicable.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Ollama-compatible shapes (/api/tags, /api/show, /api/chat).

// OllamaTagsResponse is the /api/tags response shape.
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel is one entry of OllamaTagsResponse.Models.
type OllamaModel struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// OllamaShowRequest is the /api/show request shape.
type OllamaShowRequest struct {
	Name string `json:"name"`
}

// OllamaShowResponse is the /api/show response shape.
type OllamaShowResponse struct {
	Modelfile  string            `json:"modelfile"`
	Parameters string            `json:"parameters"`
	Template   string            `json:"template"`
	Details    OllamaModelDetail `json:"details"`
}

// OllamaModelDetail is OllamaShowResponse.Details.
type OllamaModelDetail struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// OllamaChatRequest is the /api/chat request shape.
type OllamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// OllamaChatResponse is one /api/chat response (or stream chunk) shape.
type OllamaChatResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
}
