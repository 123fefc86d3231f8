// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bodhi-app/bodhi/db"
)

func TestCachePath(t *testing.T) {
	h, err := New("", t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := h.CachePath("microsoft/Phi-3-mini-4k-instruct", "phi3.gguf", "abc123")
	want := filepath.Join(h.Cache, "models--microsoft--Phi-3-mini-4k-instruct", "snapshots", "abc123", "phi3.gguf")
	if got != want {
		t.Fatalf("CachePath() = %q, want %q", got, want)
	}
}

func TestResolveMainRef(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models/microsoft/Phi-3-mini-4k-instruct/revision/main" {
			t.Errorf("unexpected path, got: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"sha": "deadbeef"}`))
	}))
	defer server.Close()
	h, err := New("", t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	h.serverBase = server.URL
	got, err := h.resolveMain(context.Background(), "microsoft/Phi-3-mini-4k-instruct")
	if err != nil {
		t.Fatal(err)
	}
	if got != "deadbeef" {
		t.Fatalf("resolveMain() = %q, want %q", got, "deadbeef")
	}
}

func TestResolveReturnsAliasNotReadyWhenFileAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sha": "deadbeef"}`))
	}))
	defer server.Close()
	store := db.NewMemory()
	h, err := New("", t.TempDir(), store)
	if err != nil {
		t.Fatal(err)
	}
	h.serverBase = server.URL
	a := db.Alias{Alias: "phi3", Repo: "microsoft/Phi-3-mini-4k-instruct", Filename: "phi3.gguf", Snapshot: "main"}
	_, err = h.Resolve(context.Background(), a)
	if err != ErrAliasNotReady {
		t.Fatalf("Resolve() error = %v, want ErrAliasNotReady", err)
	}
}

func TestResolveFindsFileOnDisk(t *testing.T) {
	store := db.NewMemory()
	h, err := New("", t.TempDir(), store)
	if err != nil {
		t.Fatal(err)
	}
	dst := h.CachePath("owner/repo", "model.gguf", "abc123")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("fake gguf contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := db.Alias{Alias: "mymodel", Repo: "owner/repo", Filename: "model.gguf", Snapshot: "abc123"}
	got, err := h.Resolve(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != dst {
		t.Fatalf("Resolve().Path = %q, want %q", got.Path, dst)
	}
	if got.SizeBytes != int64(len("fake gguf contents")) {
		t.Fatalf("Resolve().SizeBytes = %d", got.SizeBytes)
	}
}

func TestListWalksCacheAndFiltersNonModelFiles(t *testing.T) {
	store := db.NewMemory()
	h, err := New("", t.TempDir(), store)
	if err != nil {
		t.Fatal(err)
	}
	dst := h.CachePath("owner/repo", "model.gguf", "abc123")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.Cache, "stray.txt"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := h.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d files, want 1: %+v", len(got), got)
	}
	if got[0].Repo != "owner/repo" || got[0].Filename != "model.gguf" || got[0].Snapshot != "abc123" {
		t.Fatalf("List()[0] = %+v", got[0])
	}
	rows, err := store.ListHubFiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected List to cache the walk result, got %d rows", len(rows))
	}
}

func TestDownloaderPullCoalescesConcurrentRequests(t *testing.T) {
	var serveHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/models/owner/repo/revision/main":
			w.Write([]byte(`{"sha": "abc123"}`))
		default:
			serveHits++
			fmt.Fprint(w, "weights")
		}
	}))
	defer server.Close()
	store := db.NewMemory()
	h, err := New("", t.TempDir(), store)
	if err != nil {
		t.Fatal(err)
	}
	h.serverBase = server.URL
	d := NewDownloader(h)
	ctx := context.Background()

	first, err := d.Pull(ctx, "owner/repo", "model.gguf")
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Pull(ctx, "owner/repo", "model.gguf")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("concurrent Pull() of the same (repo, filename) did not coalesce: %q != %q", first.ID, second.ID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req, err := store.GetDownloadRequest(ctx, first.ID)
		if err != nil {
			t.Fatal(err)
		}
		if req.Status == db.DownloadCompleted {
			return
		}
		if req.Status == db.DownloadError {
			t.Fatalf("download failed: %s", req.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("download did not complete in time")
}
