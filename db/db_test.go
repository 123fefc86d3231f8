// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package db

import (
	"context"
	"path/filepath"
	"testing"
)

// stores returns one Store per driver so shared behavior tests run against
// both the in-memory and sqlite3 implementations.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLite(t.Context(), filepath.Join(t.TempDir(), "bodhi.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestAliasRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.CreateAlias(ctx, Alias{
				Alias:    "llama3:instruct",
				Repo:     "meta-llama/Meta-Llama-3-8B-Instruct",
				Filename: "model.gguf",
				Snapshot: "main",
				RequestParams: RequestParams{Stop: []string{"<|eot_id|>"}},
				ContextParams: ContextParams{NCtx: 4096, Seed: 42},
			})
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.GetAlias(ctx, "llama3:instruct")
			if err != nil {
				t.Fatal(err)
			}
			if got == nil {
				t.Fatal("expected alias to exist")
			}
			if got.Repo != created.Repo || got.ContextParams.NCtx != 4096 || len(got.RequestParams.Stop) != 1 {
				t.Fatalf("round trip mismatch: %+v", got)
			}
		})
	}
}

func TestAliasUniqueness(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.CreateAlias(ctx, Alias{Alias: "dup", Repo: "a/b", Filename: "f.gguf", Snapshot: "main"}); err != nil {
				t.Fatal(err)
			}
			if _, err := s.CreateAlias(ctx, Alias{Alias: "dup", Repo: "a/b", Filename: "f.gguf", Snapshot: "main"}); err == nil {
				t.Fatal("expected duplicate alias creation to fail")
			}
		})
	}
}

func TestDownloadRequestMonotoneProgress(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dr, err := s.CreateDownloadRequest(ctx, "org/repo", "model.gguf")
			if err != nil {
				t.Fatal(err)
			}
			if dr.Status != DownloadPending {
				t.Fatalf("status = %v, want Pending", dr.Status)
			}
			prev := int64(0)
			for _, chunk := range []int64{100, 250, 400} {
				if err := s.UpdateDownloadProgress(ctx, dr.ID, chunk, 400); err != nil {
					t.Fatal(err)
				}
				got, err := s.GetDownloadRequest(ctx, dr.ID)
				if err != nil {
					t.Fatal(err)
				}
				if got.DownloadedBytes < prev {
					t.Fatalf("downloaded_bytes regressed: %d < %d", got.DownloadedBytes, prev)
				}
				prev = got.DownloadedBytes
			}
			if err := s.CompleteDownload(ctx, dr.ID); err != nil {
				t.Fatal(err)
			}
			got, err := s.GetDownloadRequest(ctx, dr.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != DownloadCompleted {
				t.Fatalf("status = %v, want Completed", got.Status)
			}
			if got.DownloadedBytes != got.TotalBytes {
				t.Fatalf("downloaded_bytes %d != total_bytes %d on completion", got.DownloadedBytes, got.TotalBytes)
			}
		})
	}
}

func TestDownloadCoalescing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.CreateDownloadRequest(ctx, "org/repo", "model.gguf")
			if err != nil {
				t.Fatal(err)
			}
			active, err := s.GetActiveDownload(ctx, "org/repo", "model.gguf")
			if err != nil {
				t.Fatal(err)
			}
			if active == nil || active.ID != first.ID {
				t.Fatal("expected the in-flight download to be returned for a second caller")
			}
			if err := s.CompleteDownload(ctx, first.ID); err != nil {
				t.Fatal(err)
			}
			active, err = s.GetActiveDownload(ctx, "org/repo", "model.gguf")
			if err != nil {
				t.Fatal(err)
			}
			if active != nil {
				t.Fatal("expected no active download after completion")
			}
		})
	}
}

func TestApiTokenLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tok, err := s.CreateApiToken(ctx, ApiToken{
				UserID: "user-1", Name: "ci", TokenPrefix: "bodhi",
				TokenHash: "hash-of-secret", Scopes: []string{"scope_token_user"},
			})
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.GetApiTokenByHash(ctx, "hash-of-secret")
			if err != nil {
				t.Fatal(err)
			}
			if got == nil || got.Status != TokenActive {
				t.Fatalf("expected active token, got %+v", got)
			}
			tok.Status = TokenInactive
			if _, err := s.UpdateApiToken(ctx, tok.ID, *tok); err != nil {
				t.Fatal(err)
			}
			got, err = s.GetApiTokenByHash(ctx, "hash-of-secret")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != TokenInactive {
				t.Fatalf("status = %v, want Inactive", got.Status)
			}
		})
	}
}

func TestMcpAuthHeaderLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := s.CreateMcpAuthHeader(ctx, McpAuthHeader{
				Name: "prod-key", McpServerID: "mcp-server-1", HeaderKey: "Authorization", CreatedBy: "user-1",
			}, EncryptedValue{Ciphertext: "ct", Salt: "salt", Nonce: "nonce"})
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.GetMcpAuthHeader(ctx, h.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got == nil || got.HeaderKey != "Authorization" || got.McpServerID != "mcp-server-1" {
				t.Fatalf("round trip mismatch: %+v", got)
			}
			list, err := s.ListMcpAuthHeaders(ctx, "mcp-server-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Fatalf("expected 1 header, got %d", len(list))
			}
			secret, err := s.GetMcpAuthHeaderSecret(ctx, h.ID)
			if err != nil {
				t.Fatal(err)
			}
			if secret == nil || secret.Ciphertext != "ct" {
				t.Fatalf("expected stored secret to round trip, got %+v", secret)
			}
			if err := s.DeleteMcpAuthHeader(ctx, h.ID); err != nil {
				t.Fatal(err)
			}
			got, err = s.GetMcpAuthHeader(ctx, h.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got != nil {
				t.Fatal("expected header to be gone after delete")
			}
		})
	}
}

func TestSettingsLookup(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := s.GetSetting(ctx, "BODHI_PORT"); err != nil || ok {
				t.Fatalf("expected no setting yet, ok=%v err=%v", ok, err)
			}
			if err := s.SetSetting(ctx, "BODHI_PORT", "1135"); err != nil {
				t.Fatal(err)
			}
			v, ok, err := s.GetSetting(ctx, "BODHI_PORT")
			if err != nil || !ok || v != "1135" {
				t.Fatalf("GetSetting = %q, %v, %v", v, ok, err)
			}
		})
	}
}
