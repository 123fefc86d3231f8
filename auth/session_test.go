// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCookieSessionsRoundTrip(t *testing.T) {
	hashKey := make([]byte, 32)
	blockKey := make([]byte, 32)
	cs := NewCookieSessions(hashKey, blockKey, false)

	rec := httptest.NewRecorder()
	setReq := httptest.NewRequest(http.MethodGet, "/", nil)
	cs.SetCookie(rec, setReq, "session-123")

	result := rec.Result()
	require.NotEmpty(t, result.Cookies())

	getReq := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range result.Cookies() {
		getReq.AddCookie(c)
	}
	id, status := cs.CookieValue(getReq)
	require.Equal(t, CookieValid, status)
	require.Equal(t, "session-123", id)
}

func TestCookieSessionsMissingCookie(t *testing.T) {
	cs := NewCookieSessions(make([]byte, 32), make([]byte, 32), false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, status := cs.CookieValue(req)
	require.Equal(t, CookieAbsent, status)
}

func TestCookieSessionsInvalidCookieIsDistinctFromMissing(t *testing.T) {
	cs := NewCookieSessions(make([]byte, 32), make([]byte, 32), false)
	other := NewCookieSessions([]byte("0123456789abcdef0123456789abcdef"), []byte("0123456789abcdef0123456789abcdef"), false)
	rec := httptest.NewRecorder()
	setReq := httptest.NewRequest(http.MethodGet, "/", nil)
	other.SetCookie(rec, setReq, "session-123")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	_, status := cs.CookieValue(req)
	require.Equal(t, CookieInvalid, status)
}

func TestCookieSessionsClearExpiresCookie(t *testing.T) {
	cs := NewCookieSessions(make([]byte, 32), make([]byte, 32), false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	cs.ClearCookie(rec, req)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.True(t, cookies[0].MaxAge < 0)
}

func TestNewSessionIDIsUnique(t *testing.T) {
	require.NotEqual(t, NewSessionID(), NewSessionID())
}
