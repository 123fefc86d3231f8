// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package secrets

import (
	"context"
	"fmt"

	"github.com/bodhi-app/bodhi/db"
)

// Accessor is the only path to plaintext secrets. Every method names the
// column it decrypts, so a caller reading this file can see exactly where
// a secret crosses into plaintext; nothing else in the codebase should
// call Decrypt directly against repository-returned values.
type Accessor struct {
	store     db.Store
	masterKey []byte
}

// NewAccessor binds a Store to the process master key.
func NewAccessor(store db.Store, masterKey []byte) *Accessor {
	return &Accessor{store: store, masterKey: masterKey}
}

// ApiAliasAPIKey returns the plaintext API key for a remote provider
// alias. Callers must forward it immediately (e.g. as an outbound
// Authorization header) rather than caching or logging it.
func (a *Accessor) ApiAliasAPIKey(ctx context.Context, apiAliasID string) (string, error) {
	enc, err := a.store.GetApiAliasSecret(ctx, apiAliasID)
	if err != nil {
		return "", fmt.Errorf("load api alias secret: %w", err)
	}
	if enc == nil {
		return "", nil
	}
	return Decrypt(a.masterKey, "api_alias.api_key", Value(*enc))
}

// SetApiAliasAPIKey encrypts and stores plaintext as the API key for an
// existing ApiAlias row.
func (a *Accessor) SetApiAliasAPIKey(ctx context.Context, apiAliasID string, plaintext string) error {
	alias, err := a.store.GetApiAlias(ctx, apiAliasID)
	if err != nil {
		return fmt.Errorf("load api alias: %w", err)
	}
	if alias == nil {
		return fmt.Errorf("api alias %q not found", apiAliasID)
	}
	enc, err := Encrypt(a.masterKey, "api_alias.api_key", plaintext)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	_, err = a.store.CreateApiAlias(ctx, *alias, db.EncryptedValue(enc))
	return err
}

// AppInstanceClientSecret returns the plaintext OAuth client secret for
// the singleton AppInstance row.
func (a *Accessor) AppInstanceClientSecret(ctx context.Context) (string, error) {
	enc, err := a.store.GetAppInstanceSecret(ctx)
	if err != nil {
		return "", fmt.Errorf("load app instance secret: %w", err)
	}
	if enc == nil {
		return "", nil
	}
	return Decrypt(a.masterKey, "app_instance.client_secret", Value(*enc))
}

// SetAppInstanceClientSecret encrypts and stores plaintext as the client
// secret for the singleton AppInstance row, creating it if absent.
func (a *Accessor) SetAppInstanceClientSecret(ctx context.Context, inst db.AppInstance, plaintext string) error {
	enc, err := Encrypt(a.masterKey, "app_instance.client_secret", plaintext)
	if err != nil {
		return fmt.Errorf("encrypt client secret: %w", err)
	}
	return a.store.UpsertAppInstance(ctx, inst, db.EncryptedValue(enc))
}

// McpAuthHeaderValue returns the plaintext header value (an API key, a
// static bearer token, or any other scheme an MCP server expects as a
// header) forwarded on outbound requests to that server. Callers must
// forward it immediately rather than caching or logging it.
func (a *Accessor) McpAuthHeaderValue(ctx context.Context, headerID string) (string, error) {
	enc, err := a.store.GetMcpAuthHeaderSecret(ctx, headerID)
	if err != nil {
		return "", fmt.Errorf("load mcp auth header secret: %w", err)
	}
	if enc == nil {
		return "", nil
	}
	return Decrypt(a.masterKey, "mcp_auth_header.value", Value(*enc))
}

// SetMcpAuthHeaderValue encrypts plaintext and stores it as a new
// McpAuthHeader row for an MCP server, returning the created row.
func (a *Accessor) SetMcpAuthHeaderValue(ctx context.Context, h db.McpAuthHeader, plaintext string) (*db.McpAuthHeader, error) {
	enc, err := Encrypt(a.masterKey, "mcp_auth_header.value", plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt mcp auth header value: %w", err)
	}
	return a.store.CreateMcpAuthHeader(ctx, h, db.EncryptedValue(enc))
}
