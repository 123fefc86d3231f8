// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hub resolves aliases to on-disk GGUF files in a
// Hugging-Face-style local cache and manages downloads into that cache.
//
// Grounded directly on the teacher's huggingface.Client: GetModelInfo's
// JSON-walking pattern becomes resolveMain (resolving refs/main to a
// commit), EnsureFile becomes Resolve, and DownloadFile's
// progressbar-backed copy loop becomes the body of Downloader.Pull,
// generalized to coalesce concurrent pulls of the same (repo, filename)
// through a DownloadRequest row rather than a bare file-exists check.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/bodhi-app/bodhi/db"
)

// ErrAliasNotReady is returned by Resolve when the alias's (repo,
// filename, snapshot) triple does not yet exist on disk. The caller must
// enqueue a pull explicitly; Resolve never starts one itself.
var ErrAliasNotReady = errors.New("hub: alias not ready, file not present in cache")

// cacheDirPattern matches "models--{owner}--{repo}/snapshots/{commit}/{filename}"
// relative to a hub cache root.
var cacheDirPattern = regexp.MustCompile(`^models--([^/]+)--([^/]+)/snapshots/([^/]+)/(.+)$`)

// Hub resolves aliases against a local Hugging-Face-style cache rooted at
// Cache (HF_HOME/hub) and talks to the upstream hub for refs and content.
type Hub struct {
	Cache string
	store db.Store

	// serverBase is overridden in tests.
	serverBase string
	token      string
}

// New returns a Hub rooted at cache, authenticating to the upstream hub
// with token (may be empty for anonymous access).
func New(token, cache string, store db.Store) (*Hub, error) {
	if cache == "" {
		return nil, errors.New("hub: cache root is required")
	}
	if err := os.MkdirAll(cache, 0o755); err != nil {
		return nil, fmt.Errorf("hub: create cache root: %w", err)
	}
	return &Hub{Cache: cache, store: store, serverBase: "https://huggingface.co", token: token}, nil
}

// repoDirName converts "owner/repo" to the cache directory name
// "models--owner--repo".
func repoDirName(repo string) string {
	return "models--" + strings.ReplaceAll(repo, "/", "--")
}

// CachePath returns the expected on-disk path for (repo, filename,
// snapshot) under the cache root, without checking whether it exists.
func (h *Hub) CachePath(repo, filename, snapshot string) string {
	return filepath.Join(h.Cache, repoDirName(repo), "snapshots", snapshot, filename)
}

// Resolve translates an Alias into its on-disk HubFile, resolving a
// "main" snapshot to a concrete commit first. It returns ErrAliasNotReady
// if the file is absent; it never triggers a download.
func (h *Hub) Resolve(ctx context.Context, a db.Alias) (*db.HubFile, error) {
	snapshot := a.Snapshot
	if snapshot == "" || snapshot == "main" {
		commit, err := h.resolveMain(ctx, a.Repo)
		if err != nil {
			return nil, fmt.Errorf("hub: resolve refs/main for %q: %w", a.Repo, err)
		}
		snapshot = commit
	}
	path := h.CachePath(a.Repo, a.Filename, snapshot)
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrAliasNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("hub: stat %q: %w", path, err)
	}
	f := db.HubFile{
		Repo:      a.Repo,
		Filename:  a.Filename,
		Snapshot:  snapshot,
		Path:      path,
		SizeBytes: fi.Size(),
		ModTime:   fi.ModTime(),
	}
	if h.store != nil {
		if err := h.store.UpsertHubFile(ctx, f); err != nil {
			slog.Warn("hub", "message", "failed to cache hub file row", "error", err)
		}
	}
	return &f, nil
}

// refResponse is the subset of the revision-lookup response this package
// needs: the resolved commit sha. Grounded on GetModelInfo's
// modelInfoResponse JSON-walking pattern.
type refResponse struct {
	SHA string `json:"sha"`
}

// resolveMain resolves the "main" ref of repo to a concrete commit sha.
func (h *Hub) resolveMain(ctx context.Context, repo string) (string, error) {
	url := h.serverBase + "/api/models/" + repo + "/revision/main"
	resp, err := authGet(ctx, url, h.token)
	if err != nil {
		return "", fmt.Errorf("fetch revision for %s: %w", repo, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read revision response for %s: %w", repo, err)
	}
	var r refResponse
	if err := json.Unmarshal(b, &r); err != nil {
		return "", fmt.Errorf("parse revision response for %s: %w", repo, err)
	}
	if r.SHA == "" {
		return "", fmt.Errorf("revision response for %s has no sha", repo)
	}
	return r.SHA, nil
}

// List walks the cache directory, following symlinks, and returns every
// file matching the models--{owner}--{repo}/snapshots/{commit}/{file}
// layout. Order is unspecified; it also refreshes the HubFileRepo cache
// and prunes rows for files that disappeared since the last walk.
func (h *Hub) List(ctx context.Context) ([]db.HubFile, error) {
	var files []db.HubFile
	var seenPaths []string
	err := filepath.Walk(h.Cache, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(h.Cache, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		m := cacheDirPattern.FindStringSubmatch(rel)
		if m == nil {
			return nil
		}
		fi := info
		if info.Mode()&os.ModeSymlink != 0 {
			if fi, err = os.Stat(path); err != nil {
				return nil
			}
		}
		files = append(files, db.HubFile{
			Repo:      m[1] + "/" + m[2],
			Snapshot:  m[3],
			Filename:  m[4],
			Path:      path,
			SizeBytes: fi.Size(),
			ModTime:   fi.ModTime(),
		})
		seenPaths = append(seenPaths, path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("hub: walk cache: %w", err)
	}
	if h.store != nil {
		for _, f := range files {
			if err := h.store.UpsertHubFile(ctx, f); err != nil {
				slog.Warn("hub", "message", "failed to cache hub file row", "error", err)
			}
		}
		if err := h.store.PruneHubFiles(ctx, seenPaths); err != nil {
			slog.Warn("hub", "message", "failed to prune stale hub file rows", "error", err)
		}
	}
	return files, nil
}

// Downloader issues coalescing pulls of hub files into a Hub's cache.
type Downloader struct {
	hub *Hub
}

// NewDownloader returns a Downloader pulling into h's cache.
func NewDownloader(h *Hub) *Downloader {
	return &Downloader{hub: h}
}

// Pull ensures (repo, filename) is downloading or already downloaded. If
// another caller already started a pull of the same (repo, filename),
// this attaches to the existing DownloadRequest as an observer instead of
// starting a second transfer.
func (d *Downloader) Pull(ctx context.Context, repo, filename string) (*db.DownloadRequest, error) {
	if d.hub.store != nil {
		if active, err := d.hub.store.GetActiveDownload(ctx, repo, filename); err != nil {
			return nil, fmt.Errorf("hub: check active download: %w", err)
		} else if active != nil {
			return active, nil
		}
	}
	req, err := d.hub.store.CreateDownloadRequest(ctx, repo, filename)
	if err != nil {
		return nil, fmt.Errorf("hub: create download request: %w", err)
	}
	go d.run(context.WithoutCancel(ctx), *req, repo, filename)
	return req, nil
}

// run performs the actual transfer in the background, updating req's
// progress as bytes arrive and completing or failing the row on exit.
func (d *Downloader) run(ctx context.Context, req db.DownloadRequest, repo, filename string) {
	snapshot, err := d.hub.resolveMain(ctx, repo)
	if err != nil {
		d.fail(ctx, req.ID, err)
		return
	}
	dst := d.hub.CachePath(repo, filename, snapshot)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		d.fail(ctx, req.ID, err)
		return
	}
	url := d.hub.serverBase + "/" + repo + "/resolve/" + snapshot + "/" + filename + "?download=true"
	resp, err := authGet(ctx, url, d.hub.token)
	if err != nil {
		d.fail(ctx, req.ID, err)
		return
	}
	defer resp.Body.Close()

	tmp := dst + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		d.fail(ctx, req.ID, err)
		return
	}
	bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+filename)
	pw := &progressWriter{id: req.ID, store: d.hub.store, ctx: ctx, total: resp.ContentLength}
	if _, err := io.Copy(io.MultiWriter(f, bar, pw), resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		d.fail(ctx, req.ID, err)
		return
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		d.fail(ctx, req.ID, err)
		return
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		d.fail(ctx, req.ID, err)
		return
	}
	if err := d.hub.store.CompleteDownload(ctx, req.ID); err != nil {
		slog.Error("hub", "message", "failed to mark download complete", "id", req.ID, "error", err)
	}
}

func (d *Downloader) fail(ctx context.Context, id string, cause error) {
	slog.Error("hub", "message", "download failed", "id", id, "error", cause)
	if err := d.hub.store.FailDownload(ctx, id, cause.Error()); err != nil {
		slog.Error("hub", "message", "failed to mark download failed", "id", id, "error", err)
	}
}

// progressWriter reports bytes written to io.Copy as DownloadRequest
// progress updates. It never errors; a write failure here must not abort
// the copy loop, only the download's transport errors should.
type progressWriter struct {
	id          string
	store       db.DownloadRequestRepo
	ctx         context.Context
	total       int64
	transferred int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.transferred += int64(len(b))
	if err := p.store.UpdateDownloadProgress(p.ctx, p.id, p.transferred, p.total); err != nil {
		slog.Warn("hub", "message", "failed to persist download progress", "id", p.id, "error", err)
	}
	return len(b), nil
}

// authGet does an authenticated HTTP request with a Bearer token,
// retrying on HTTP 429 with linear backoff.
func authGet(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Add("Authorization", "Bearer "+token)
	}
	for i := 0; i < 10; i++ {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				if token != "" {
					return nil, fmt.Errorf("double check if your token is valid: %s", resp.Status)
				}
				return nil, fmt.Errorf("a valid token is likely required: %s", resp.Status)
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				time.Sleep(time.Duration(i+1) * time.Second)
				continue
			}
			return nil, fmt.Errorf("request status: %s", resp.Status)
		}
		return resp, nil
	}
	return nil, errors.New("failed retrying on 429")
}
