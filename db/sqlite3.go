// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// schema is executed once at open time. No migration framework is used:
// Bodhi treats migration tooling as an external collaborator (spec.md
// Non-goals), so new columns are added by hand here and guarded with
// "IF NOT EXISTS" rather than versioned migration files.
const schema = `
CREATE TABLE IF NOT EXISTS aliases (
	id TEXT PRIMARY KEY,
	alias TEXT UNIQUE NOT NULL,
	repo TEXT NOT NULL,
	filename TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	request_params TEXT NOT NULL DEFAULT '{}',
	context_params TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_aliases (
	id TEXT PRIMARY KEY,
	api_format TEXT NOT NULL,
	base_url TEXT NOT NULL,
	models TEXT NOT NULL DEFAULT '[]',
	prefix TEXT UNIQUE,
	forward_all_with_prefix INTEGER NOT NULL DEFAULT 0,
	models_cache TEXT NOT NULL DEFAULT '[]',
	cache_fetched_at TEXT,
	api_key_ciphertext TEXT NOT NULL DEFAULT '',
	api_key_salt TEXT NOT NULL DEFAULT '',
	api_key_nonce TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hub_files (
	repo TEXT NOT NULL,
	filename TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	sha TEXT NOT NULL DEFAULT '',
	mod_time TEXT NOT NULL,
	PRIMARY KEY (repo, filename, snapshot)
);

CREATE TABLE IF NOT EXISTS download_requests (
	id TEXT PRIMARY KEY,
	repo TEXT NOT NULL,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	total_bytes INTEGER NOT NULL DEFAULT 0,
	downloaded_bytes INTEGER NOT NULL DEFAULT 0,
	started_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	token_prefix TEXT NOT NULL,
	token_hash TEXT UNIQUE NOT NULL,
	scopes TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_used_at TEXT
);

CREATE TABLE IF NOT EXISTS app_instance (
	client_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	secret_ciphertext TEXT NOT NULL DEFAULT '',
	secret_salt TEXT NOT NULL DEFAULT '',
	secret_nonce TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	username TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	access_token TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_metadata (
	source TEXT NOT NULL,
	repo TEXT NOT NULL,
	filename TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	api_model_id TEXT NOT NULL,
	vision INTEGER NOT NULL DEFAULT 0,
	audio INTEGER NOT NULL DEFAULT 0,
	function_calling INTEGER NOT NULL DEFAULT 0,
	family TEXT NOT NULL DEFAULT '',
	parameter_count INTEGER NOT NULL DEFAULT 0,
	quantization TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	max_input_tokens INTEGER NOT NULL DEFAULT 0,
	max_output_tokens INTEGER NOT NULL DEFAULT 0,
	chat_template TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (source, repo, filename, snapshot, api_model_id)
);

CREATE TABLE IF NOT EXISTS mcp_auth_headers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	mcp_server_id TEXT NOT NULL,
	header_key TEXT NOT NULL,
	value_ciphertext TEXT NOT NULL DEFAULT '',
	value_salt TEXT NOT NULL DEFAULT '',
	value_nonce TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLite is the default Store, backed by modernc.org/sqlite (pure Go, no
// cgo — matches desktop packaging where we can't assume a C toolchain).
// Configuration mirrors rakunlabs-at's internal/store/sqlite3: WAL mode, a
// single-writer connection pool, and a goqu.Database for query building.
type SQLite struct {
	sqldb *sql.DB
	goqu  *goqu.Database
}

// NewSQLite opens (creating if absent) a sqlite3 database at path and
// ensures its schema exists.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := sqldb.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqldb.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// SQLite is single-writer; limit connections accordingly.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	if _, err := sqldb.ExecContext(ctx, schema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	slog.Info("db", "state", "opened", "path", path)
	return &SQLite{sqldb: sqldb, goqu: goqu.New("sqlite3", sqldb)}, nil
}

func (s *SQLite) Close() error {
	return s.sqldb.Close()
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func newID() string { return ulid.Make().String() }

// ─── Aliases ───

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Can't happen for the plain structs used here.
		panic(err)
	}
	return string(b)
}

func (s *SQLite) ListAliases(ctx context.Context) ([]Alias, error) {
	query, _, err := s.goqu.From("aliases").Select("*").Order(goqu.I("alias").Asc()).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqldb.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()
	var out []Alias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) GetAlias(ctx context.Context, alias string) (*Alias, error) {
	query, _, err := s.goqu.From("aliases").Select("*").Where(goqu.I("alias").Eq(alias)).ToSQL()
	if err != nil {
		return nil, err
	}
	a, err := scanAlias(s.sqldb.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alias %q: %w", alias, err)
	}
	return &a, nil
}

func (s *SQLite) CreateAlias(ctx context.Context, a Alias) (*Alias, error) {
	a.ID = newID()
	ts := now()
	query, _, err := s.goqu.Insert("aliases").Rows(goqu.Record{
		"id":             a.ID,
		"alias":          a.Alias,
		"repo":           a.Repo,
		"filename":       a.Filename,
		"snapshot":       a.Snapshot,
		"request_params": marshalJSON(a.RequestParams),
		"context_params": marshalJSON(a.ContextParams),
		"created_at":     ts,
		"updated_at":     ts,
	}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.sqldb.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create alias %q: %w", a.Alias, err)
	}
	return s.GetAlias(ctx, a.Alias)
}

func (s *SQLite) UpdateAlias(ctx context.Context, alias string, a Alias) (*Alias, error) {
	query, _, err := s.goqu.Update("aliases").Set(goqu.Record{
		"repo":           a.Repo,
		"filename":       a.Filename,
		"snapshot":       a.Snapshot,
		"request_params": marshalJSON(a.RequestParams),
		"context_params": marshalJSON(a.ContextParams),
		"updated_at":     now(),
	}).Where(goqu.I("alias").Eq(alias)).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.sqldb.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update alias %q: %w", alias, err)
	}
	return s.GetAlias(ctx, alias)
}

func (s *SQLite) DeleteAlias(ctx context.Context, alias string) error {
	query, _, err := s.goqu.Delete("aliases").Where(goqu.I("alias").Eq(alias)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlias(r rowScanner) (Alias, error) {
	var a Alias
	var reqParams, ctxParams string
	if err := r.Scan(&a.ID, &a.Alias, &a.Repo, &a.Filename, &a.Snapshot, &reqParams, &ctxParams, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	_ = json.Unmarshal([]byte(reqParams), &a.RequestParams)
	_ = json.Unmarshal([]byte(ctxParams), &a.ContextParams)
	return a, nil
}

// ─── ApiAliases ───

func (s *SQLite) ListApiAliases(ctx context.Context) ([]ApiAlias, error) {
	query, _, err := s.goqu.From("api_aliases").
		Select("id", "api_format", "base_url", "models", "prefix", "forward_all_with_prefix", "models_cache", "cache_fetched_at", "created_at", "updated_at").
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqldb.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list api aliases: %w", err)
	}
	defer rows.Close()
	var out []ApiAlias
	for rows.Next() {
		a, err := scanApiAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) GetApiAlias(ctx context.Context, id string) (*ApiAlias, error) {
	return s.getApiAliasWhere(ctx, goqu.I("id").Eq(id))
}

func (s *SQLite) GetApiAliasByPrefix(ctx context.Context, prefix string) (*ApiAlias, error) {
	return s.getApiAliasWhere(ctx, goqu.I("prefix").Eq(prefix))
}

func (s *SQLite) getApiAliasWhere(ctx context.Context, expr goqu.Expression) (*ApiAlias, error) {
	query, _, err := s.goqu.From("api_aliases").
		Select("id", "api_format", "base_url", "models", "prefix", "forward_all_with_prefix", "models_cache", "cache_fetched_at", "created_at", "updated_at").
		Where(expr).ToSQL()
	if err != nil {
		return nil, err
	}
	a, err := scanApiAlias(s.sqldb.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api alias: %w", err)
	}
	return &a, nil
}

func scanApiAlias(r rowScanner) (ApiAlias, error) {
	var a ApiAlias
	var models, cache string
	var prefix sql.NullString
	var cacheFetchedAt sql.NullTime
	if err := r.Scan(&a.ID, &a.ApiFormat, &a.BaseURL, &models, &prefix, &a.ForwardAllWithPrefix, &cache, &cacheFetchedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	_ = json.Unmarshal([]byte(models), &a.Models)
	_ = json.Unmarshal([]byte(cache), &a.ModelsCache)
	a.Prefix = prefix.String
	if cacheFetchedAt.Valid {
		a.CacheFetchedAt = &cacheFetchedAt.Time
	}
	return a, nil
}

func (s *SQLite) CreateApiAlias(ctx context.Context, a ApiAlias, enc EncryptedValue) (*ApiAlias, error) {
	a.ID = newID()
	ts := now()
	rec := goqu.Record{
		"id":                      a.ID,
		"api_format":              a.ApiFormat,
		"base_url":                a.BaseURL,
		"models":                  marshalJSON(a.Models),
		"forward_all_with_prefix": a.ForwardAllWithPrefix,
		"models_cache":            marshalJSON(a.ModelsCache),
		"api_key_ciphertext":      enc.Ciphertext,
		"api_key_salt":            enc.Salt,
		"api_key_nonce":           enc.Nonce,
		"created_at":              ts,
		"updated_at":              ts,
	}
	if a.Prefix != "" {
		rec["prefix"] = a.Prefix
	}
	query, _, err := s.goqu.Insert("api_aliases").Rows(rec).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.sqldb.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create api alias: %w", err)
	}
	return s.GetApiAlias(ctx, a.ID)
}

func (s *SQLite) UpdateApiAlias(ctx context.Context, id string, a ApiAlias) (*ApiAlias, error) {
	rec := goqu.Record{
		"api_format":              a.ApiFormat,
		"base_url":                a.BaseURL,
		"models":                  marshalJSON(a.Models),
		"forward_all_with_prefix": a.ForwardAllWithPrefix,
		"models_cache":            marshalJSON(a.ModelsCache),
		"updated_at":              now(),
	}
	query, _, err := s.goqu.Update("api_aliases").Set(rec).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.sqldb.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update api alias %q: %w", id, err)
	}
	return s.GetApiAlias(ctx, id)
}

func (s *SQLite) DeleteApiAlias(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete("api_aliases").Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

func (s *SQLite) GetApiAliasSecret(ctx context.Context, id string) (*EncryptedValue, error) {
	query, _, err := s.goqu.From("api_aliases").
		Select("api_key_ciphertext", "api_key_salt", "api_key_nonce").
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	var e EncryptedValue
	err = s.sqldb.QueryRowContext(ctx, query).Scan(&e.Ciphertext, &e.Salt, &e.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api alias secret %q: %w", id, err)
	}
	return &e, nil
}

// ─── HubFiles ───

func (s *SQLite) ListHubFiles(ctx context.Context) ([]HubFile, error) {
	query, _, err := s.goqu.From("hub_files").Select("*").ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqldb.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list hub files: %w", err)
	}
	defer rows.Close()
	var out []HubFile
	for rows.Next() {
		var f HubFile
		if err := rows.Scan(&f.Repo, &f.Filename, &f.Snapshot, &f.Path, &f.SizeBytes, &f.Sha, &f.ModTime); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertHubFile(ctx context.Context, f HubFile) error {
	_, err := s.sqldb.ExecContext(ctx, `
		INSERT INTO hub_files (repo, filename, snapshot, path, size_bytes, sha, mod_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, filename, snapshot) DO UPDATE SET
			path=excluded.path, size_bytes=excluded.size_bytes, sha=excluded.sha, mod_time=excluded.mod_time
	`, f.Repo, f.Filename, f.Snapshot, f.Path, f.SizeBytes, f.Sha, f.ModTime.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLite) PruneHubFiles(ctx context.Context, seenPaths []string) error {
	seen := make(map[string]bool, len(seenPaths))
	for _, p := range seenPaths {
		seen[p] = true
	}
	rows, err := s.sqldb.QueryContext(ctx, "SELECT repo, filename, snapshot, path FROM hub_files")
	if err != nil {
		return fmt.Errorf("prune hub files: %w", err)
	}
	type key struct{ repo, filename, snapshot string }
	var stale []key
	for rows.Next() {
		var k key
		var path string
		if err := rows.Scan(&k.repo, &k.filename, &k.snapshot, &path); err != nil {
			rows.Close()
			return err
		}
		if !seen[path] {
			stale = append(stale, k)
		}
	}
	rows.Close()
	for _, k := range stale {
		if _, err := s.sqldb.ExecContext(ctx, "DELETE FROM hub_files WHERE repo=? AND filename=? AND snapshot=?", k.repo, k.filename, k.snapshot); err != nil {
			return err
		}
	}
	return nil
}

// ─── DownloadRequests ───

func (s *SQLite) CreateDownloadRequest(ctx context.Context, repo, filename string) (*DownloadRequest, error) {
	id := newID()
	ts := now()
	query, _, err := s.goqu.Insert("download_requests").Rows(goqu.Record{
		"id": id, "repo": repo, "filename": filename,
		"status": DownloadPending, "started_at": ts, "created_at": ts, "updated_at": ts,
	}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.sqldb.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	return s.GetDownloadRequest(ctx, id)
}

func (s *SQLite) GetDownloadRequest(ctx context.Context, id string) (*DownloadRequest, error) {
	query, _, err := s.goqu.From("download_requests").Select("*").Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	d, err := scanDownload(s.sqldb.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download request %q: %w", id, err)
	}
	return &d, nil
}

func (s *SQLite) GetActiveDownload(ctx context.Context, repo, filename string) (*DownloadRequest, error) {
	query, _, err := s.goqu.From("download_requests").Select("*").
		Where(goqu.I("repo").Eq(repo), goqu.I("filename").Eq(filename), goqu.I("status").Eq(DownloadPending)).
		Order(goqu.I("created_at").Desc()).Limit(1).ToSQL()
	if err != nil {
		return nil, err
	}
	d, err := scanDownload(s.sqldb.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active download for %s/%s: %w", repo, filename, err)
	}
	return &d, nil
}

func scanDownload(r rowScanner) (DownloadRequest, error) {
	var d DownloadRequest
	var startedAt sql.NullTime
	if err := r.Scan(&d.ID, &d.Repo, &d.Filename, &d.Status, &d.Error, &d.TotalBytes, &d.DownloadedBytes, &startedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	if startedAt.Valid {
		d.StartedAt = &startedAt.Time
	}
	return d, nil
}

func (s *SQLite) UpdateDownloadProgress(ctx context.Context, id string, downloadedBytes, totalBytes int64) error {
	query, _, err := s.goqu.Update("download_requests").Set(goqu.Record{
		"downloaded_bytes": downloadedBytes, "total_bytes": totalBytes, "updated_at": now(),
	}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

func (s *SQLite) CompleteDownload(ctx context.Context, id string) error {
	query, _, err := s.goqu.Update("download_requests").Set(goqu.Record{
		"status": DownloadCompleted, "updated_at": now(),
	}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

func (s *SQLite) FailDownload(ctx context.Context, id string, message string) error {
	query, _, err := s.goqu.Update("download_requests").Set(goqu.Record{
		"status": DownloadError, "error": message, "updated_at": now(),
	}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

// ─── ApiTokens ───

func (s *SQLite) ListApiTokens(ctx context.Context, userID string) ([]ApiToken, error) {
	ds := s.goqu.From("api_tokens").Select("*").Order(goqu.I("created_at").Desc())
	if userID != "" {
		ds = ds.Where(goqu.I("user_id").Eq(userID))
	}
	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqldb.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	defer rows.Close()
	var out []ApiToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) GetApiTokenByHash(ctx context.Context, hash string) (*ApiToken, error) {
	query, _, err := s.goqu.From("api_tokens").Select("*").Where(goqu.I("token_hash").Eq(hash)).ToSQL()
	if err != nil {
		return nil, err
	}
	t, err := scanToken(s.sqldb.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api token by hash: %w", err)
	}
	return &t, nil
}

func scanToken(r rowScanner) (ApiToken, error) {
	var t ApiToken
	var scopes string
	var lastUsed sql.NullTime
	if err := r.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenPrefix, &t.TokenHash, &scopes, &t.Status, &t.CreatedAt, &t.UpdatedAt, &lastUsed); err != nil {
		return t, err
	}
	_ = json.Unmarshal([]byte(scopes), &t.Scopes)
	if lastUsed.Valid {
		t.LastUsedAt = &lastUsed.Time
	}
	return t, nil
}

func (s *SQLite) CreateApiToken(ctx context.Context, t ApiToken) (*ApiToken, error) {
	t.ID = newID()
	ts := now()
	query, _, err := s.goqu.Insert("api_tokens").Rows(goqu.Record{
		"id": t.ID, "user_id": t.UserID, "name": t.Name, "token_prefix": t.TokenPrefix,
		"token_hash": t.TokenHash, "scopes": marshalJSON(t.Scopes), "status": TokenActive,
		"created_at": ts, "updated_at": ts,
	}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.sqldb.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create api token: %w", err)
	}
	return s.GetApiTokenByHash(ctx, t.TokenHash)
}

func (s *SQLite) UpdateApiToken(ctx context.Context, id string, t ApiToken) (*ApiToken, error) {
	query, _, err := s.goqu.Update("api_tokens").Set(goqu.Record{
		"name": t.Name, "scopes": marshalJSON(t.Scopes), "status": t.Status, "updated_at": now(),
	}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	res, err := s.sqldb.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update api token %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("api token %q not found", id)
	}
	query, _, err = s.goqu.From("api_tokens").Select("*").Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	tok, err := scanToken(s.sqldb.QueryRowContext(ctx, query))
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *SQLite) DeleteApiToken(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete("api_tokens").Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

func (s *SQLite) UpdateApiTokenLastUsed(ctx context.Context, id string) error {
	query, _, err := s.goqu.Update("api_tokens").Set(goqu.Record{"last_used_at": now()}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

// ─── AppInstance ───

func (s *SQLite) GetAppInstance(ctx context.Context) (*AppInstance, error) {
	row := s.sqldb.QueryRowContext(ctx, "SELECT client_id, status, created_at, updated_at FROM app_instance LIMIT 2")
	var a AppInstance
	err := row.Scan(&a.ClientID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get app instance: %w", err)
	}
	var count int
	if err := s.sqldb.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_instance").Scan(&count); err != nil {
		return nil, err
	}
	if count > 1 {
		return nil, errors.New("more than one app_instance row exists")
	}
	return &a, nil
}

func (s *SQLite) UpsertAppInstance(ctx context.Context, a AppInstance, secret EncryptedValue) error {
	ts := now()
	_, err := s.sqldb.ExecContext(ctx, `
		INSERT INTO app_instance (client_id, status, secret_ciphertext, secret_salt, secret_nonce, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			status=excluded.status, secret_ciphertext=excluded.secret_ciphertext,
			secret_salt=excluded.secret_salt, secret_nonce=excluded.secret_nonce, updated_at=excluded.updated_at
	`, a.ClientID, a.Status, secret.Ciphertext, secret.Salt, secret.Nonce, ts, ts)
	return err
}

func (s *SQLite) GetAppInstanceSecret(ctx context.Context) (*EncryptedValue, error) {
	row := s.sqldb.QueryRowContext(ctx, "SELECT secret_ciphertext, secret_salt, secret_nonce FROM app_instance LIMIT 1")
	var e EncryptedValue
	err := row.Scan(&e.Ciphertext, &e.Salt, &e.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get app instance secret: %w", err)
	}
	return &e, nil
}

// ─── Settings ───

func (s *SQLite) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := s.sqldb.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key)
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.sqldb.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, key, value, now())
	return err
}

func (s *SQLite) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.sqldb.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	var out []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ─── Sessions ───

func (s *SQLite) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.sqldb.QueryRowContext(ctx, "SELECT id, user_id, username, role, access_token, refresh_token, expires_at, created_at, updated_at FROM sessions WHERE id = ?", id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Username, &sess.Role, &sess.AccessToken, &sess.RefreshToken, &sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %q: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLite) CreateSession(ctx context.Context, sess Session) (*Session, error) {
	sess.ID = newID()
	ts := now()
	_, err := s.sqldb.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, username, role, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Username, sess.Role, sess.AccessToken, sess.RefreshToken, sess.ExpiresAt.UTC().Format(time.RFC3339), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetSession(ctx, sess.ID)
}

func (s *SQLite) UpdateSession(ctx context.Context, id string, sess Session) (*Session, error) {
	_, err := s.sqldb.ExecContext(ctx, `
		UPDATE sessions SET user_id=?, username=?, role=?, access_token=?, refresh_token=?, expires_at=?, updated_at=? WHERE id=?
	`, sess.UserID, sess.Username, sess.Role, sess.AccessToken, sess.RefreshToken, sess.ExpiresAt.UTC().Format(time.RFC3339), now(), id)
	if err != nil {
		return nil, fmt.Errorf("update session %q: %w", id, err)
	}
	return s.GetSession(ctx, id)
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	_, err := s.sqldb.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	return err
}

// ─── ModelMetadata ───

func (s *SQLite) GetModelMetadata(ctx context.Context, source, repo, filename, snapshot, apiModelID string) (*ModelMetadata, error) {
	row := s.sqldb.QueryRowContext(ctx, `
		SELECT source, repo, filename, snapshot, api_model_id, vision, audio, function_calling,
			family, parameter_count, quantization, format, max_input_tokens, max_output_tokens, chat_template, created_at
		FROM model_metadata WHERE source=? AND repo=? AND filename=? AND snapshot=? AND api_model_id=?
	`, source, repo, filename, snapshot, apiModelID)
	var m ModelMetadata
	err := row.Scan(&m.Source, &m.Repo, &m.Filename, &m.Snapshot, &m.ApiModelID, &m.Vision, &m.Audio, &m.FunctionCalling,
		&m.Family, &m.ParameterCount, &m.Quantization, &m.Format, &m.MaxInputTokens, &m.MaxOutputTokens, &m.ChatTemplate, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model metadata: %w", err)
	}
	return &m, nil
}

func (s *SQLite) UpsertModelMetadata(ctx context.Context, m ModelMetadata) error {
	_, err := s.sqldb.ExecContext(ctx, `
		INSERT INTO model_metadata (source, repo, filename, snapshot, api_model_id, vision, audio, function_calling,
			family, parameter_count, quantization, format, max_input_tokens, max_output_tokens, chat_template, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, repo, filename, snapshot, api_model_id) DO UPDATE SET
			vision=excluded.vision, audio=excluded.audio, function_calling=excluded.function_calling,
			family=excluded.family, parameter_count=excluded.parameter_count, quantization=excluded.quantization,
			format=excluded.format, max_input_tokens=excluded.max_input_tokens, max_output_tokens=excluded.max_output_tokens,
			chat_template=excluded.chat_template
	`, m.Source, m.Repo, m.Filename, m.Snapshot, m.ApiModelID, m.Vision, m.Audio, m.FunctionCalling,
		m.Family, m.ParameterCount, m.Quantization, m.Format, m.MaxInputTokens, m.MaxOutputTokens, m.ChatTemplate, now())
	return err
}

// ─── McpAuthHeaders ───

func (s *SQLite) ListMcpAuthHeaders(ctx context.Context, mcpServerID string) ([]McpAuthHeader, error) {
	query, _, err := s.goqu.From("mcp_auth_headers").
		Select("id", "name", "mcp_server_id", "header_key", "created_by", "created_at", "updated_at").
		Where(goqu.I("mcp_server_id").Eq(mcpServerID)).
		Order(goqu.I("created_at").Desc()).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqldb.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list mcp auth headers: %w", err)
	}
	defer rows.Close()
	var out []McpAuthHeader
	for rows.Next() {
		h, err := scanMcpAuthHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLite) GetMcpAuthHeader(ctx context.Context, id string) (*McpAuthHeader, error) {
	query, _, err := s.goqu.From("mcp_auth_headers").
		Select("id", "name", "mcp_server_id", "header_key", "created_by", "created_at", "updated_at").
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	h, err := scanMcpAuthHeader(s.sqldb.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mcp auth header %q: %w", id, err)
	}
	return &h, nil
}

func scanMcpAuthHeader(r rowScanner) (McpAuthHeader, error) {
	var h McpAuthHeader
	err := r.Scan(&h.ID, &h.Name, &h.McpServerID, &h.HeaderKey, &h.CreatedBy, &h.CreatedAt, &h.UpdatedAt)
	return h, err
}

func (s *SQLite) CreateMcpAuthHeader(ctx context.Context, h McpAuthHeader, value EncryptedValue) (*McpAuthHeader, error) {
	h.ID = newID()
	ts := now()
	query, _, err := s.goqu.Insert("mcp_auth_headers").Rows(goqu.Record{
		"id":               h.ID,
		"name":             h.Name,
		"mcp_server_id":    h.McpServerID,
		"header_key":       h.HeaderKey,
		"value_ciphertext": value.Ciphertext,
		"value_salt":       value.Salt,
		"value_nonce":      value.Nonce,
		"created_by":       h.CreatedBy,
		"created_at":       ts,
		"updated_at":       ts,
	}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.sqldb.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create mcp auth header: %w", err)
	}
	return s.GetMcpAuthHeader(ctx, h.ID)
}

func (s *SQLite) DeleteMcpAuthHeader(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete("mcp_auth_headers").Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.sqldb.ExecContext(ctx, query)
	return err
}

func (s *SQLite) GetMcpAuthHeaderSecret(ctx context.Context, id string) (*EncryptedValue, error) {
	query, _, err := s.goqu.From("mcp_auth_headers").
		Select("value_ciphertext", "value_salt", "value_nonce").
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	var e EncryptedValue
	err = s.sqldb.QueryRowContext(ctx, query).Scan(&e.Ciphertext, &e.Salt, &e.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mcp auth header secret %q: %w", id, err)
	}
	return &e, nil
}
