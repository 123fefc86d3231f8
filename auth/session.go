// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package auth

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// SessionCookieName is the browser cookie holding the opaque session ID.
// The cookie itself carries no claims — it is a securecookie-signed
// pointer into db.SessionRepo, so revoking a session is a single DB
// delete rather than a token-blacklist.
const SessionCookieName = "bodhi_session"

// CookieStatus distinguishes "no cookie sent" from "a cookie was sent but
// failed to verify or decode", so callers can tell apart a request with no
// session at all from one carrying a forged or stale cookie. spec.md
// requires the latter to produce a 401 with the cookie cleared, which is
// impossible to do correctly if both cases collapse to a single bool.
type CookieStatus int

const (
	CookieAbsent CookieStatus = iota
	CookieInvalid
	CookieValid
)

// SessionStore reads and writes the signed session-ID cookie. It does not
// touch db.SessionRepo; Pipeline does that once it has an ID.
type SessionStore interface {
	CookieValue(r *http.Request) (id string, status CookieStatus)
	SetCookie(w http.ResponseWriter, r *http.Request, id string)
	ClearCookie(w http.ResponseWriter, r *http.Request)
}

// CookieSessions implements SessionStore with gorilla/sessions' signed
// cookie store, mirroring the teacher's securecookie-backed session
// handling generalized from a single auth claim to an opaque session ID.
type CookieSessions struct {
	store  *sessions.CookieStore
	secure bool
}

// NewCookieSessions builds a CookieStore keyed by hashKey/blockKey (see
// securecookie.GenerateRandomKey); secure controls whether the cookie is
// marked Secure, which should be true for any non-localhost deployment.
func NewCookieSessions(hashKey, blockKey []byte, secure bool) *CookieSessions {
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieSessions{store: store, secure: secure}
}

func (c *CookieSessions) CookieValue(r *http.Request) (string, CookieStatus) {
	if _, err := r.Cookie(SessionCookieName); err != nil {
		return "", CookieAbsent
	}
	s, err := c.store.Get(r, SessionCookieName)
	if err != nil {
		return "", CookieInvalid
	}
	id, ok := s.Values["id"].(string)
	if !ok || id == "" {
		return "", CookieInvalid
	}
	return id, CookieValid
}

func (c *CookieSessions) SetCookie(w http.ResponseWriter, r *http.Request, id string) {
	s := sessions.NewSession(c.store, SessionCookieName)
	s.Options = c.store.Options
	s.Values["id"] = id
	_ = c.store.Save(r, w, s)
}

func (c *CookieSessions) ClearCookie(w http.ResponseWriter, r *http.Request) {
	s := sessions.NewSession(c.store, SessionCookieName)
	opts := *c.store.Options
	opts.MaxAge = -1
	s.Options = &opts
	_ = c.store.Save(r, w, s)
}

// NewSessionID generates an opaque ID for a new db.Session row.
func NewSessionID() string {
	return uuid.NewString()
}
