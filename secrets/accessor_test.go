// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package secrets

import (
	"context"
	"testing"

	"github.com/bodhi-app/bodhi/db"
	"github.com/stretchr/testify/require"
)

func TestApiAliasAPIKeyRoundTrip(t *testing.T) {
	store := db.NewMemory()
	a := NewAccessor(store, randomKey(t))
	ctx := context.Background()

	created, err := store.CreateApiAlias(ctx, db.ApiAlias{BaseURL: "https://api.example.com"}, db.EncryptedValue{})
	require.NoError(t, err)

	require.NoError(t, a.SetApiAliasAPIKey(ctx, created.ID, "sk-remote-key"))
	got, err := a.ApiAliasAPIKey(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "sk-remote-key", got)
}

func TestAppInstanceClientSecretRoundTrip(t *testing.T) {
	store := db.NewMemory()
	a := NewAccessor(store, randomKey(t))
	ctx := context.Background()

	require.NoError(t, a.SetAppInstanceClientSecret(ctx, db.AppInstance{ClientID: "bodhi-instance"}, "oauth-client-secret"))
	got, err := a.AppInstanceClientSecret(ctx)
	require.NoError(t, err)
	require.Equal(t, "oauth-client-secret", got)
}

func TestMcpAuthHeaderValueRoundTrip(t *testing.T) {
	store := db.NewMemory()
	a := NewAccessor(store, randomKey(t))
	ctx := context.Background()

	created, err := a.SetMcpAuthHeaderValue(ctx, db.McpAuthHeader{
		Name: "prod-key", McpServerID: "mcp-server-1", HeaderKey: "Authorization",
	}, "Bearer mcp-secret-token")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := a.McpAuthHeaderValue(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Bearer mcp-secret-token", got)
}

func TestMcpAuthHeaderValueMissingReturnsEmpty(t *testing.T) {
	store := db.NewMemory()
	a := NewAccessor(store, randomKey(t))
	got, err := a.McpAuthHeaderValue(context.Background(), "no-such-header")
	require.NoError(t, err)
	require.Empty(t, got)
}
