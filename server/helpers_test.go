// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bodhi-app/bodhi/auth"
	"github.com/bodhi-app/bodhi/db"
	"github.com/bodhi-app/bodhi/llamasrv"
	"github.com/gin-gonic/gin"
)

// fakeResolver implements llamasrv.Resolver without touching the
// filesystem: file is returned for any alias, along with err if set, letting
// tests drive EnsureLoaded's AliasNotReady/ReloadFailed branches without a
// real model cache.
type fakeResolver struct {
	file *db.HubFile
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, a db.Alias) (*db.HubFile, error) {
	return f.file, f.err
}

// stubSessions is an in-memory auth.SessionStore keyed by request pointer
// identity, avoiding gorilla/sessions' cookie machinery in
// tests that only need to assert a session ID round-trips.
type stubSessions struct {
	cookies map[*http.Request]string
	cleared int
}

func newStubSessions() *stubSessions {
	return &stubSessions{cookies: map[*http.Request]string{}}
}

// CookieValue treats a request with a raw Cookie header this stub never
// registered via SetCookie as an undecodable cookie, mirroring a real
// CookieSessions rejecting a forged or stale signature.
func (s *stubSessions) CookieValue(r *http.Request) (string, auth.CookieStatus) {
	if id, ok := s.cookies[r]; ok {
		return id, auth.CookieValid
	}
	if _, err := r.Cookie(auth.SessionCookieName); err == nil {
		return "", auth.CookieInvalid
	}
	return "", auth.CookieAbsent
}

func (s *stubSessions) SetCookie(w http.ResponseWriter, r *http.Request, id string) {
	s.cookies[r] = id
}

func (s *stubSessions) ClearCookie(w http.ResponseWriter, r *http.Request) {
	s.cleared++
	delete(s.cookies, r)
}

// newTestHandlers builds a handlers value closing over an in-memory store
// and a Manager that never actually launches a worker, matching how the
// inference-context tests stub llamasrv.Resolver rather than spawn a real
// binary.
func newTestHandlers(t *testing.T) (*handlers, db.Store) {
	t.Helper()
	store := db.NewMemory()
	manager := llamasrv.NewManager(&fakeResolver{}, "/bin/true", t.TempDir())
	return &handlers{d: Deps{
		Store:   store,
		Manager: manager,
		Pipeline: &auth.Pipeline{
			Store:    store,
			Sessions: newStubSessions(),
		},
	}}, store
}

// testContext builds a *gin.Context wired to an httptest recorder/request
// pair, in gin's own recommended unit-testing shape.
func testContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	return c, rec
}
