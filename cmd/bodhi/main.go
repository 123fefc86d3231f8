// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command bodhi runs the local model-serving daemon and its companion
// management commands.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bodhi-app/bodhi/auth"
	"github.com/bodhi-app/bodhi/db"
	"github.com/bodhi-app/bodhi/hub"
	"github.com/bodhi-app/bodhi/internal"
	"github.com/bodhi-app/bodhi/llamasrv"
	"github.com/bodhi-app/bodhi/secrets"
	"github.com/bodhi-app/bodhi/server"
	"github.com/bodhi-app/bodhi/settings"
)

var programLevel = &slog.LevelVar{}

// llamaServerReleaseVersion is the llama.cpp release pulled into
// BODHI_HOME/bin when BODHI_EXEC_LOOKUP_PATH names no usable binary.
const llamaServerReleaseVersion = 4882

func mainImpl() error {
	internal.InitLog(programLevel)
	if len(os.Args) < 2 {
		return errors.New("usage: bodhi <serve|pull|list|run> ...")
	}
	switch os.Args[1] {
	case "serve":
		return cmdServe(os.Args[2:])
	case "pull":
		return cmdPull(os.Args[2:])
	case "list":
		return cmdList(os.Args[2:])
	case "run":
		return cmdRun(os.Args[2:])
	default:
		return fmt.Errorf("unknown command %q, want serve, pull, list, or run", os.Args[1])
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "bodhi: %v\n", err)
		os.Exit(1)
	}
}

// env bundles everything every subcommand needs, built once from the
// layered settings resolver.
type env struct {
	store    db.Store
	settings *settings.Resolver
	hub      *hub.Hub
	puller   *hub.Downloader
	secrets  *secrets.Accessor
	manager  *llamasrv.Manager
}

func openEnv(ctx context.Context) (*env, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("create BODHI_HOME %q: %w", home, err)
	}

	store, err := db.NewSQLite(ctx, filepath.Join(home, "bodhi.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	res, err := settings.LoadOrDefault(store, filepath.Join(home, "settings.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if lvl, err := res.Get(ctx, settings.BodhiLogLevel); err == nil {
		setLogLevel(lvl)
	}

	hfHome, err := res.Get(ctx, settings.HFHome)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", settings.HFHome, err)
	}
	if hfHome == "" {
		hfHome = filepath.Join(home, "hub")
	}

	h, err := hub.New(os.Getenv("HF_TOKEN"), hfHome, store)
	if err != nil {
		return nil, fmt.Errorf("open model cache: %w", err)
	}

	masterKey, err := secrets.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}

	exePath, err := resolveLlamaServer(ctx, res, home)
	if err != nil {
		return nil, fmt.Errorf("resolve llama-server binary: %w", err)
	}

	return &env{
		store:    store,
		settings: res,
		hub:      h,
		puller:   hub.NewDownloader(h),
		secrets:  secrets.NewAccessor(store, masterKey),
		manager:  llamasrv.NewManager(h, exePath, filepath.Join(home, "logs")),
	}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

func resolveHome() (string, error) {
	if v := os.Getenv(string(settings.BodhiHome)); v != "" {
		return v, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve BODHI_HOME: %w", err)
	}
	return filepath.Join(dir, ".bodhi"), nil
}

func resolveLlamaServer(ctx context.Context, res *settings.Resolver, home string) (string, error) {
	if path, err := res.Get(ctx, settings.BodhiExecLookupPath); err == nil && path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
	}
	binDir := filepath.Join(home, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", err
	}
	return llamasrv.DownloadRelease(ctx, binDir, llamaServerReleaseVersion)
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		programLevel.Set(slog.LevelDebug)
	case "warn":
		programLevel.Set(slog.LevelWarn)
	case "error":
		programLevel.Set(slog.LevelError)
	default:
		programLevel.Set(slog.LevelInfo)
	}
}

// cmdServe runs the HTTP server until interrupted.
func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	host := fs.String("host", "", "listen host, overrides BODHI_HOST")
	port := fs.String("port", "", "listen port, overrides BODHI_PORT")
	authServerURL := fs.String("auth-server", "", "external auth server base URL, overrides BODHI_AUTH_SERVER_URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if *host != "" {
		if err := e.settings.Set(ctx, settings.BodhiHost, *host); err != nil {
			return err
		}
	}
	if *port != "" {
		if err := e.settings.Set(ctx, settings.BodhiPort, *port); err != nil {
			return err
		}
	}
	if *authServerURL != "" {
		if err := e.settings.Set(ctx, settings.BodhiAuthServerURL, *authServerURL); err != nil {
			return err
		}
	}

	listenHost, err := e.settings.Get(ctx, settings.BodhiHost)
	if err != nil {
		return err
	}
	listenPort, err := e.settings.Get(ctx, settings.BodhiPort)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Store:   e.store,
		Hub:     e.hub,
		Puller:  e.puller,
		Manager: e.manager,
		Secrets: e.secrets,
	}
	if baseURL, err := e.settings.Get(ctx, settings.BodhiAuthServerURL); err == nil && baseURL != "" {
		inst, err := e.store.GetAppInstance(ctx)
		if err != nil {
			return fmt.Errorf("load app instance: %w", err)
		}
		clientSecret, err := e.secrets.AppInstanceClientSecret(ctx)
		if err != nil {
			return fmt.Errorf("load app instance client secret: %w", err)
		}
		clientID := ""
		if inst != nil {
			clientID = inst.ClientID
		}
		authProxy := server.NewAuthServerClient(baseURL, clientID, clientSecret)
		deps.AuthProxy = authProxy
		hashKey, blockKey := cookieKeys()
		deps.Pipeline = &auth.Pipeline{
			Store:     e.store,
			JWKS:      auth.NewJWKSSource(authProxy.JWKSURL()),
			Refresher: authProxy,
			Sessions:  auth.NewCookieSessions(hashKey, blockKey, listenHost != "127.0.0.1" && listenHost != "localhost"),
		}
	} else {
		hashKey, blockKey := cookieKeys()
		deps.Pipeline = &auth.Pipeline{
			Store:    e.store,
			Sessions: auth.NewCookieSessions(hashKey, blockKey, listenHost != "127.0.0.1" && listenHost != "localhost"),
		}
	}

	addr := listenHost + ":" + listenPort
	srv := &http.Server{Addr: addr, Handler: server.New(deps)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = e.manager.TryStop(shutdownCtx)
	}()

	slog.Info("bodhi", "message", "listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// cmdPull downloads one (repo, filename) pair into the model cache.
func cmdPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: bodhi pull <repo> <filename>")
	}
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	dl, err := e.puller.Pull(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return fmt.Errorf("pull %s/%s: %w", fs.Arg(0), fs.Arg(1), err)
	}
	fmt.Printf("pull started: %s/%s (status=%s)\n", fs.Arg(0), fs.Arg(1), dl.Status)
	return nil
}

// cmdList prints every configured alias.
func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	aliases, err := e.store.ListAliases(ctx)
	if err != nil {
		return fmt.Errorf("list aliases: %w", err)
	}
	for _, a := range aliases {
		fmt.Printf("%s\t%s/%s@%s\n", a.Alias, a.Repo, a.Filename, a.Snapshot)
	}
	return nil
}

// cmdRun loads an alias's worker and reports readiness, a quick way to
// confirm a model boots without going through the HTTP API.
func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: bodhi run <alias>")
	}
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	a, err := e.store.GetAlias(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("load alias %q: %w", fs.Arg(0), err)
	}
	if a == nil {
		return fmt.Errorf("alias %q does not exist", fs.Arg(0))
	}
	outcome, err := e.manager.EnsureLoaded(ctx, *a)
	if outcome != llamasrv.Ok {
		return fmt.Errorf("load %q: outcome=%s: %w", fs.Arg(0), outcome, err)
	}
	fmt.Printf("%s is ready\n", fs.Arg(0))
	return nil
}

// cookieKeys derives the session cookie store's hash and block keys from
// the same master key material secrets.Accessor uses, so the session
// cookie does not need its own key-management scheme: each key is the
// SHA-256 digest of the master key with a purpose suffix appended
// ("session-cookie-hash", "session-cookie-block").
func cookieKeys() (hashKey, blockKey []byte) {
	master, err := secrets.MasterKey()
	if err != nil {
		slog.Error("bodhi", "message", "falling back to ephemeral cookie keys", "error", err)
		master = []byte("bodhi-dev-insecure-cookie-seed!!")
	}
	h := sha256.Sum256(append(append([]byte{}, master...), []byte("session-cookie-hash")...))
	b := sha256.Sum256(append(append([]byte{}, master...), []byte("session-cookie-block")...))
	return h[:], b[:]
}
