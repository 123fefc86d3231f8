// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package db defines Bodhi's typed repositories and their two driver
// implementations: a sqlite3-backed store for production use and an
// in-memory store for tests. Every entity from the data model owns a ULID
// id and RFC3339 timestamps, following the shape rakunlabs-at's sqlite3
// repositories use for their rows.
package db

import "time"

// RequestParams are OpenAI-style per-alias defaults merged into a chat or
// completion request body when the caller does not override them.
type RequestParams struct {
	Stop        []string `json:"stop,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// ContextParams are llama-server startup flags derived from an alias.
type ContextParams struct {
	NCtx     int `json:"n_ctx,omitempty"`
	NParallel int `json:"n_parallel,omitempty"`
	NPredict int `json:"n_predict,omitempty"`
	NKeep    int `json:"n_keep,omitempty"`
	Seed     int `json:"seed,omitempty"`
}

// Alias is a caller-visible model name mapped to a concrete file in the
// local Hugging-Face-style cache.
type Alias struct {
	ID            string `db:"id"`
	Alias         string `db:"alias"`
	Repo          string `db:"repo"`
	Filename      string `db:"filename"`
	Snapshot      string `db:"snapshot"`
	RequestParams RequestParams `db:"request_params"`
	ContextParams ContextParams `db:"context_params"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ApiFormat enumerates the remote provider wire protocols ApiAlias can
// proxy to.
type ApiFormat string

const (
	ApiFormatOpenAICompatible ApiFormat = "openai"
)

// ApiAlias is a remote-provider model entry. The encrypted API key never
// appears on this struct; use secrets.Accessor.ApiAliasAPIKey to fetch plaintext.
type ApiAlias struct {
	ID                  string    `db:"id"`
	ApiFormat           ApiFormat `db:"api_format"`
	BaseURL             string    `db:"base_url"`
	Models              []string  `db:"models"`
	Prefix              string    `db:"prefix"`
	ForwardAllWithPrefix bool     `db:"forward_all_with_prefix"`
	ModelsCache         []string  `db:"models_cache"`
	CacheFetchedAt      *time.Time `db:"cache_fetched_at"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// HubFile is a concrete on-disk GGUF discovered by walking the cache.
type HubFile struct {
	Repo      string    `db:"repo"`
	Filename  string    `db:"filename"`
	Snapshot  string    `db:"snapshot"`
	Path      string    `db:"path"`
	SizeBytes int64     `db:"size_bytes"`
	Sha       string    `db:"sha"`
	ModTime   time.Time `db:"mod_time"`
}

// DownloadStatus is the lifecycle state of a DownloadRequest.
type DownloadStatus string

const (
	DownloadPending   DownloadStatus = "pending"
	DownloadCompleted DownloadStatus = "completed"
	DownloadError     DownloadStatus = "error"
)

// DownloadRequest tracks the progress of one pull of (Repo, Filename).
type DownloadRequest struct {
	ID              string         `db:"id"`
	Repo            string         `db:"repo"`
	Filename        string         `db:"filename"`
	Status          DownloadStatus `db:"status"`
	Error           string         `db:"error"`
	TotalBytes      int64          `db:"total_bytes"`
	DownloadedBytes int64          `db:"downloaded_bytes"`
	StartedAt       *time.Time     `db:"started_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// TokenStatus is the lifecycle state of an ApiToken.
type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenInactive TokenStatus = "inactive"
)

// ApiToken is a Bodhi-issued bearer token. Only the prefix and a hash of
// the secret are stored; the plaintext secret is shown exactly once, at
// creation time, by the caller that minted it.
type ApiToken struct {
	ID          string      `db:"id"`
	UserID      string      `db:"user_id"`
	Name        string      `db:"name"`
	TokenPrefix string      `db:"token_prefix"`
	TokenHash   string      `db:"token_hash"`
	Scopes      []string    `db:"scopes"`
	Status      TokenStatus `db:"status"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
	LastUsedAt  *time.Time  `db:"last_used_at"`
}

// AppInstanceStatus is the setup lifecycle of the singleton AppInstance row.
type AppInstanceStatus string

const (
	AppInstanceSetup         AppInstanceStatus = "setup"
	AppInstanceReady         AppInstanceStatus = "ready"
	AppInstanceResourceAdmin AppInstanceStatus = "resource_admin"
)

// AppInstance is the at-most-one-row record of this Bodhi instance's OAuth
// client registration with the configured auth server.
type AppInstance struct {
	ClientID  string            `db:"client_id"`
	Status    AppInstanceStatus `db:"status"`
	CreatedAt time.Time         `db:"created_at"`
	UpdatedAt time.Time         `db:"updated_at"`
}

// McpAuthHeader is a named HTTP header forwarded on every outbound request
// to one MCP (Model Context Protocol) server — an API key, a static OAuth
// bearer token, or any other auth scheme a server expects as a header. The
// encrypted value never appears on this struct; use
// Accessor.McpAuthHeaderValue to fetch plaintext.
type McpAuthHeader struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	McpServerID string    `db:"mcp_server_id"`
	HeaderKey   string    `db:"header_key"`
	CreatedBy   string    `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Setting is one row in the settings table, the DB layer of the four-layer
// settings lookup (env -> DB -> file -> default).
type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Session is an opaque server-side session record referenced by a signed
// cookie. Chat history is explicitly out of scope; only auth state lives
// here.
type Session struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	Username     string    `db:"username"`
	Role         string    `db:"role"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// ModelMetadata is extracted once per GGUF and cached keyed by
// (Source, Repo, Filename, Snapshot, ApiModelID).
type ModelMetadata struct {
	Source          string    `db:"source"`
	Repo            string    `db:"repo"`
	Filename        string    `db:"filename"`
	Snapshot        string    `db:"snapshot"`
	ApiModelID      string    `db:"api_model_id"`
	Vision          bool      `db:"vision"`
	Audio           bool      `db:"audio"`
	FunctionCalling bool      `db:"function_calling"`
	Family          string    `db:"family"`
	ParameterCount  int64     `db:"parameter_count"`
	Quantization    string    `db:"quantization"`
	Format          string    `db:"format"`
	MaxInputTokens  int       `db:"max_input_tokens"`
	MaxOutputTokens int       `db:"max_output_tokens"`
	ChatTemplate    string    `db:"chat_template"`
	CreatedAt       time.Time `db:"created_at"`
}

// EncryptedValue is the three-column shape every secrets-backed field uses:
// ciphertext, the per-row salt used to derive the row key, and the AEAD
// nonce. Never exposed on a domain-level read projection.
type EncryptedValue struct {
	Ciphertext string `db:"ciphertext"`
	Salt       string `db:"salt"`
	Nonce      string `db:"nonce"`
}
