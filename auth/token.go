// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// tokenBearerPattern recognizes a Bodhi-issued API token's bearer shape:
// an 8-character alphanumeric prefix, an underscore, then a
// high-entropy secret. Anything not matching this shape that still
// parses as a bearer token is handled as an ExternalApp JWT instead.
var tokenBearerPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}_[A-Za-z0-9_-]{24,}$`)

// LooksLikeApiToken reports whether bearer matches the Bodhi API-token
// prefix format (credential-detection step 1).
func LooksLikeApiToken(bearer string) bool {
	return tokenBearerPattern.MatchString(bearer)
}

// GenerateApiToken creates a new one-time-visible bearer string and its
// storable (prefix, hash) pair. The secret portion is never stored —
// only HashSecret's output is.
func GenerateApiToken() (bearer, prefix, hash string, err error) {
	prefixBytes := make([]byte, 4)
	if _, err = rand.Read(prefixBytes); err != nil {
		return "", "", "", fmt.Errorf("auth: generate token prefix: %w", err)
	}
	secretBytes := make([]byte, 24)
	if _, err = rand.Read(secretBytes); err != nil {
		return "", "", "", fmt.Errorf("auth: generate token secret: %w", err)
	}
	prefix = hex.EncodeToString(prefixBytes)
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	bearer = prefix + "_" + secret
	hash = HashSecret(secret)
	return bearer, prefix, hash, nil
}

// HashSecret hashes an API token's secret half. Unlike a user password, a
// Bodhi token secret is already a uniformly random 24-byte value, so a
// plain unkeyed SHA-256 digest gives no attacker advantage over a
// memory-hard KDF while staying cheap enough to check on every request;
// the memory-hard construction in secrets.Encrypt is reserved for
// low-entropy, attacker-influenced secrets like remote provider API
// keys.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SplitBearerToken splits a bearer string of the form "{prefix}_{secret}"
// into its two halves.
func SplitBearerToken(bearer string) (prefix, secret string, ok bool) {
	i := strings.IndexByte(bearer, '_')
	if i <= 0 || i == len(bearer)-1 {
		return "", "", false
	}
	return bearer[:i], bearer[i+1:], true
}

// VerifySecret reports whether secret hashes to want, comparing in
// constant time.
func VerifySecret(secret, want string) bool {
	got := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
