// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/bodhi-app/bodhi/auth"
	"github.com/bodhi-app/bodhi/db"
	"github.com/stretchr/testify/require"
)

func TestAuthInitiateRequiresConfiguredAuthServer(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/bodhi/v1/auth/initiate", []byte(`{"redirect_uri":"http://localhost/cb"}`))
	h.authInitiate(c)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuthInitiateBuildsAuthorizationURL(t *testing.T) {
	h, _ := newTestHandlers(t)
	h.d.AuthProxy = NewAuthServerClient("https://auth.example.com", "bodhi-instance", "secret")

	c, rec := testContext(http.MethodPost, "/bodhi/v1/auth/initiate", []byte(`{"redirect_uri":"http://localhost/cb"}`))
	h.authInitiate(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body authInitiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.AuthorizationURL, "https://auth.example.com/oauth/authorize?")
	require.Contains(t, body.AuthorizationURL, "client_id=bodhi-instance")
	require.NotEmpty(t, body.State)
}

func TestLogoutClearsSessionWithoutAuthProxy(t *testing.T) {
	h, store := newTestHandlers(t)
	session, err := store.CreateSession(context.Background(), db.Session{UserID: "user-1"})
	require.NoError(t, err)

	sessions := h.d.Pipeline.Sessions.(*stubSessions)
	c, rec := testContext(http.MethodPost, "/bodhi/v1/logout", nil)
	sessions.cookies[c.Request] = session.ID

	h.logout(c)

	require.Equal(t, http.StatusNoContent, rec.Code)
	got, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Nil(t, got)
	_, status := sessions.CookieValue(c.Request)
	require.Equal(t, auth.CookieAbsent, status)
}

func TestLogoutIsNoopWithoutCookie(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodPost, "/bodhi/v1/logout", nil)
	h.logout(c)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListUsersRequiresConfiguredAuthServer(t *testing.T) {
	h, _ := newTestHandlers(t)
	c, rec := testContext(http.MethodGet, "/bodhi/v1/users", nil)
	h.listUsers(c)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
