// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package db

import "context"

// Store is the full set of repositories Bodhi's services depend on. Two
// implementations exist: *SQLite (production, modernc.org/sqlite) and
// *Memory (tests).
type Store interface {
	AliasRepo
	ApiAliasRepo
	HubFileRepo
	DownloadRequestRepo
	ApiTokenRepo
	AppInstanceRepo
	SettingsRepo
	SessionRepo
	ModelMetadataRepo
	McpAuthHeaderRepo

	Close() error
}

// AliasRepo manages user-defined model aliases.
type AliasRepo interface {
	ListAliases(ctx context.Context) ([]Alias, error)
	GetAlias(ctx context.Context, alias string) (*Alias, error)
	CreateAlias(ctx context.Context, a Alias) (*Alias, error)
	UpdateAlias(ctx context.Context, alias string, a Alias) (*Alias, error)
	DeleteAlias(ctx context.Context, alias string) error
}

// ApiAliasRepo manages remote-provider aliases. Encrypted columns are never
// part of the returned struct; see secrets.Accessor for the accessor that
// names the column explicitly.
type ApiAliasRepo interface {
	ListApiAliases(ctx context.Context) ([]ApiAlias, error)
	GetApiAlias(ctx context.Context, id string) (*ApiAlias, error)
	GetApiAliasByPrefix(ctx context.Context, prefix string) (*ApiAlias, error)
	CreateApiAlias(ctx context.Context, a ApiAlias, encKey EncryptedValue) (*ApiAlias, error)
	UpdateApiAlias(ctx context.Context, id string, a ApiAlias) (*ApiAlias, error)
	DeleteApiAlias(ctx context.Context, id string) error
	// GetApiAliasSecret returns the encrypted API key columns for id, for
	// use only by a caller that will immediately decrypt and forward it.
	GetApiAliasSecret(ctx context.Context, id string) (*EncryptedValue, error)
}

// HubFileRepo caches the result of walking the on-disk model cache. It is
// not authoritative: a cache miss does not imply the file is absent, only
// that the last walk predates it.
type HubFileRepo interface {
	ListHubFiles(ctx context.Context) ([]HubFile, error)
	UpsertHubFile(ctx context.Context, f HubFile) error
	PruneHubFiles(ctx context.Context, seenPaths []string) error
}

// DownloadRequestRepo tracks in-flight and historical pulls.
type DownloadRequestRepo interface {
	CreateDownloadRequest(ctx context.Context, repo, filename string) (*DownloadRequest, error)
	GetDownloadRequest(ctx context.Context, id string) (*DownloadRequest, error)
	// GetActiveDownload returns the Pending DownloadRequest for (repo,
	// filename) if one exists, so concurrent pulls can coalesce.
	GetActiveDownload(ctx context.Context, repo, filename string) (*DownloadRequest, error)
	UpdateDownloadProgress(ctx context.Context, id string, downloadedBytes, totalBytes int64) error
	CompleteDownload(ctx context.Context, id string) error
	FailDownload(ctx context.Context, id string, message string) error
}

// ApiTokenRepo manages Bodhi-issued bearer tokens, grounded directly on
// rakunlabs-at's tokens.go CRUD shape.
type ApiTokenRepo interface {
	ListApiTokens(ctx context.Context, userID string) ([]ApiToken, error)
	GetApiTokenByHash(ctx context.Context, hash string) (*ApiToken, error)
	CreateApiToken(ctx context.Context, t ApiToken) (*ApiToken, error)
	UpdateApiToken(ctx context.Context, id string, t ApiToken) (*ApiToken, error)
	DeleteApiToken(ctx context.Context, id string) error
	UpdateApiTokenLastUsed(ctx context.Context, id string) error
}

// AppInstanceRepo manages the singleton AppInstance row.
type AppInstanceRepo interface {
	GetAppInstance(ctx context.Context) (*AppInstance, error)
	UpsertAppInstance(ctx context.Context, a AppInstance, secret EncryptedValue) error
	GetAppInstanceSecret(ctx context.Context) (*EncryptedValue, error)
}

// SettingsRepo is the DB layer of the four-layer settings lookup.
type SettingsRepo interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]Setting, error)
}

// SessionRepo manages opaque server-side session records.
type SessionRepo interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s Session) (*Session, error)
	UpdateSession(ctx context.Context, id string, s Session) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// ModelMetadataRepo caches extracted GGUF metadata.
type ModelMetadataRepo interface {
	GetModelMetadata(ctx context.Context, source, repo, filename, snapshot, apiModelID string) (*ModelMetadata, error)
	UpsertModelMetadata(ctx context.Context, m ModelMetadata) error
}

// McpAuthHeaderRepo manages per-MCP-server auth header secrets. Encrypted
// columns are never part of the returned struct; see secrets.Accessor for
// the accessor that names the column explicitly.
type McpAuthHeaderRepo interface {
	ListMcpAuthHeaders(ctx context.Context, mcpServerID string) ([]McpAuthHeader, error)
	GetMcpAuthHeader(ctx context.Context, id string) (*McpAuthHeader, error)
	CreateMcpAuthHeader(ctx context.Context, h McpAuthHeader, value EncryptedValue) (*McpAuthHeader, error)
	DeleteMcpAuthHeader(ctx context.Context, id string) error
	// GetMcpAuthHeaderSecret returns the encrypted header value for id, for
	// use only by a caller that will immediately decrypt and forward it.
	GetMcpAuthHeaderSecret(ctx context.Context, id string) (*EncryptedValue, error)
}
