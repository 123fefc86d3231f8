// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory is an in-memory Store used by tests, grounded on the same
// repository surface as *SQLite so service-layer tests don't need a real
// database file. It is not optimized for concurrency beyond correctness: a
// single mutex guards all maps.
type Memory struct {
	mu sync.Mutex

	aliases      map[string]Alias
	apiAliases   map[string]ApiAlias
	apiAliasKeys map[string]EncryptedValue
	hubFiles     map[string]HubFile
	downloads    map[string]DownloadRequest
	tokens       map[string]ApiToken
	appInstance  *AppInstance
	appSecret    *EncryptedValue
	settings     map[string]Setting
	sessions     map[string]Session
	modelMeta    map[string]ModelMetadata
	mcpHeaders   map[string]McpAuthHeader
	mcpHeaderVal map[string]EncryptedValue
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		aliases:      map[string]Alias{},
		apiAliases:   map[string]ApiAlias{},
		apiAliasKeys: map[string]EncryptedValue{},
		hubFiles:     map[string]HubFile{},
		downloads:    map[string]DownloadRequest{},
		tokens:       map[string]ApiToken{},
		settings:     map[string]Setting{},
		sessions:     map[string]Session{},
		modelMeta:    map[string]ModelMetadata{},
		mcpHeaders:   map[string]McpAuthHeader{},
		mcpHeaderVal: map[string]EncryptedValue{},
	}
}

func (m *Memory) Close() error { return nil }

// ─── Aliases ───

func (m *Memory) ListAliases(ctx context.Context) ([]Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alias, 0, len(m.aliases))
	for _, a := range m.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

func (m *Memory) GetAlias(ctx context.Context, alias string) (*Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.aliases[alias]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) CreateAlias(ctx context.Context, a Alias) (*Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aliases[a.Alias]; ok {
		return nil, fmt.Errorf("alias %q already exists", a.Alias)
	}
	a.ID = ulid.Make().String()
	a.CreatedAt, a.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.aliases[a.Alias] = a
	return &a, nil
}

func (m *Memory) UpdateAlias(ctx context.Context, alias string, a Alias) (*Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.aliases[alias]
	if !ok {
		return nil, fmt.Errorf("alias %q not found", alias)
	}
	a.ID = existing.ID
	a.Alias = alias
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	m.aliases[alias] = a
	return &a, nil
}

func (m *Memory) DeleteAlias(ctx context.Context, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.aliases, alias)
	return nil
}

// ─── ApiAliases ───

func (m *Memory) ListApiAliases(ctx context.Context) ([]ApiAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ApiAlias, 0, len(m.apiAliases))
	for _, a := range m.apiAliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetApiAlias(ctx context.Context, id string) (*ApiAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.apiAliases[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) GetApiAliasByPrefix(ctx context.Context, prefix string) (*ApiAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.apiAliases {
		if a.Prefix == prefix {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateApiAlias(ctx context.Context, a ApiAlias, enc EncryptedValue) (*ApiAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = ulid.Make().String()
	a.CreatedAt, a.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.apiAliases[a.ID] = a
	m.apiAliasKeys[a.ID] = enc
	return &a, nil
}

func (m *Memory) UpdateApiAlias(ctx context.Context, id string, a ApiAlias) (*ApiAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.apiAliases[id]
	if !ok {
		return nil, fmt.Errorf("api alias %q not found", id)
	}
	a.ID = id
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	m.apiAliases[id] = a
	return &a, nil
}

func (m *Memory) DeleteApiAlias(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.apiAliases, id)
	delete(m.apiAliasKeys, id)
	return nil
}

func (m *Memory) GetApiAliasSecret(ctx context.Context, id string) (*EncryptedValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.apiAliasKeys[id]; ok {
		return &e, nil
	}
	return nil, nil
}

// ─── HubFiles ───

func hubFileKey(repo, filename, snapshot string) string { return repo + "\x00" + filename + "\x00" + snapshot }

func (m *Memory) ListHubFiles(ctx context.Context) ([]HubFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HubFile, 0, len(m.hubFiles))
	for _, f := range m.hubFiles {
		out = append(out, f)
	}
	return out, nil
}

func (m *Memory) UpsertHubFile(ctx context.Context, f HubFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hubFiles[hubFileKey(f.Repo, f.Filename, f.Snapshot)] = f
	return nil
}

func (m *Memory) PruneHubFiles(ctx context.Context, seenPaths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(seenPaths))
	for _, p := range seenPaths {
		seen[p] = true
	}
	for k, f := range m.hubFiles {
		if !seen[f.Path] {
			delete(m.hubFiles, k)
		}
	}
	return nil
}

// ─── DownloadRequests ───

func (m *Memory) CreateDownloadRequest(ctx context.Context, repo, filename string) (*DownloadRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().UTC()
	d := DownloadRequest{
		ID: ulid.Make().String(), Repo: repo, Filename: filename,
		Status: DownloadPending, StartedAt: &ts, CreatedAt: ts, UpdatedAt: ts,
	}
	m.downloads[d.ID] = d
	return &d, nil
}

func (m *Memory) GetDownloadRequest(ctx context.Context, id string) (*DownloadRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.downloads[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *Memory) GetActiveDownload(ctx context.Context, repo, filename string) (*DownloadRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.downloads {
		if d.Repo == repo && d.Filename == filename && d.Status == DownloadPending {
			return &d, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateDownloadProgress(ctx context.Context, id string, downloadedBytes, totalBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok {
		return fmt.Errorf("download request %q not found", id)
	}
	d.DownloadedBytes, d.TotalBytes, d.UpdatedAt = downloadedBytes, totalBytes, time.Now().UTC()
	m.downloads[id] = d
	return nil
}

func (m *Memory) CompleteDownload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok {
		return fmt.Errorf("download request %q not found", id)
	}
	d.Status, d.UpdatedAt = DownloadCompleted, time.Now().UTC()
	m.downloads[id] = d
	return nil
}

func (m *Memory) FailDownload(ctx context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok {
		return fmt.Errorf("download request %q not found", id)
	}
	d.Status, d.Error, d.UpdatedAt = DownloadError, message, time.Now().UTC()
	m.downloads[id] = d
	return nil
}

// ─── ApiTokens ───

func (m *Memory) ListApiTokens(ctx context.Context, userID string) ([]ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ApiToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetApiTokenByHash(ctx context.Context, hash string) (*ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateApiToken(ctx context.Context, t ApiToken) (*ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = ulid.Make().String()
	t.Status = TokenActive
	t.CreatedAt, t.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.tokens[t.ID] = t
	return &t, nil
}

func (m *Memory) UpdateApiToken(ctx context.Context, id string, t ApiToken) (*ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tokens[id]
	if !ok {
		return nil, fmt.Errorf("api token %q not found", id)
	}
	existing.Name, existing.Scopes, existing.Status = t.Name, t.Scopes, t.Status
	existing.UpdatedAt = time.Now().UTC()
	m.tokens[id] = existing
	return &existing, nil
}

func (m *Memory) DeleteApiToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *Memory) UpdateApiTokenLastUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return fmt.Errorf("api token %q not found", id)
	}
	ts := time.Now().UTC()
	t.LastUsedAt = &ts
	m.tokens[id] = t
	return nil
}

// ─── AppInstance ───

func (m *Memory) GetAppInstance(ctx context.Context) (*AppInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appInstance == nil {
		return nil, nil
	}
	cp := *m.appInstance
	return &cp, nil
}

func (m *Memory) UpsertAppInstance(ctx context.Context, a AppInstance, secret EncryptedValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().UTC()
	if m.appInstance == nil {
		a.CreatedAt = ts
	} else {
		a.CreatedAt = m.appInstance.CreatedAt
	}
	a.UpdatedAt = ts
	m.appInstance = &a
	m.appSecret = &secret
	return nil
}

func (m *Memory) GetAppInstanceSecret(ctx context.Context) (*EncryptedValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appSecret == nil {
		return nil, nil
	}
	cp := *m.appSecret
	return &cp, nil
}

// ─── Settings ───

func (m *Memory) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[key]
	return s.Value, ok, nil
}

func (m *Memory) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) ListSettings(ctx context.Context) ([]Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Setting, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ─── Sessions ───

func (m *Memory) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) CreateSession(ctx context.Context, s Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = ulid.Make().String()
	s.CreatedAt, s.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.sessions[s.ID] = s
	return &s, nil
}

func (m *Memory) UpdateSession(ctx context.Context, id string, s Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	s.ID = id
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return &s, nil
}

func (m *Memory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ─── ModelMetadata ───

func modelMetaKey(source, repo, filename, snapshot, apiModelID string) string {
	return source + "\x00" + repo + "\x00" + filename + "\x00" + snapshot + "\x00" + apiModelID
}

func (m *Memory) GetModelMetadata(ctx context.Context, source, repo, filename, snapshot, apiModelID string) (*ModelMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if md, ok := m.modelMeta[modelMetaKey(source, repo, filename, snapshot, apiModelID)]; ok {
		return &md, nil
	}
	return nil, nil
}

func (m *Memory) UpsertModelMetadata(ctx context.Context, md ModelMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	md.CreatedAt = time.Now().UTC()
	m.modelMeta[modelMetaKey(md.Source, md.Repo, md.Filename, md.Snapshot, md.ApiModelID)] = md
	return nil
}

// ─── McpAuthHeaders ───

func (m *Memory) ListMcpAuthHeaders(ctx context.Context, mcpServerID string) ([]McpAuthHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]McpAuthHeader, 0, len(m.mcpHeaders))
	for _, h := range m.mcpHeaders {
		if h.McpServerID == mcpServerID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetMcpAuthHeader(ctx context.Context, id string) (*McpAuthHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.mcpHeaders[id]; ok {
		return &h, nil
	}
	return nil, nil
}

func (m *Memory) CreateMcpAuthHeader(ctx context.Context, h McpAuthHeader, value EncryptedValue) (*McpAuthHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = ulid.Make().String()
	h.CreatedAt, h.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.mcpHeaders[h.ID] = h
	m.mcpHeaderVal[h.ID] = value
	return &h, nil
}

func (m *Memory) DeleteMcpAuthHeader(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mcpHeaders, id)
	delete(m.mcpHeaderVal, id)
	return nil
}

func (m *Memory) GetMcpAuthHeaderSecret(ctx context.Context, id string) (*EncryptedValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.mcpHeaderVal[id]; ok {
		return &e, nil
	}
	return nil, nil
}
