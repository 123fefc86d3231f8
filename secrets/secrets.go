// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package secrets implements Bodhi's encrypted credential store: a
// master key fetched from the OS keyring (or BODHI_ENCRYPTION_KEY),
// per-row keys derived from it with argon2id, and AES-256-GCM
// authenticated encryption over each stored secret.
//
// This generalizes rakunlabs-at's internal/crypto package, which derives
// one AES key directly from a config-string passphrase via SHA-256. Here
// the master key never encrypts a row directly: each row additionally
// derives a row key bound to its own salt and a purpose string (the
// column name), so that compromising one row's derived key does not
// expose any other row, and nonces are never reused across rows or
// across purposes for the same row.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

const (
	keyringService = "bodhi"
	keyringUser    = "master-key"
	masterKeyBytes = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Value is the three-column encrypted shape: base64 ciphertext, base64
// per-row salt, base64 nonce. Matches db.EncryptedValue field-for-field so
// callers can pass one straight into the other.
type Value struct {
	Ciphertext string
	Salt       string
	Nonce      string
}

// MasterKey obtains Bodhi's 256-bit master key: BODHI_ENCRYPTION_KEY if
// set (test/container use, per spec.md's settings table), else the OS
// keyring entry, generating and storing one via a CSPRNG on first run.
func MasterKey() ([]byte, error) {
	if env := os.Getenv("BODHI_ENCRYPTION_KEY"); env != "" {
		key, err := base64.StdEncoding.DecodeString(env)
		if err != nil {
			return nil, fmt.Errorf("BODHI_ENCRYPTION_KEY is not valid base64: %w", err)
		}
		if len(key) != masterKeyBytes {
			return nil, fmt.Errorf("BODHI_ENCRYPTION_KEY must decode to %d bytes, got %d", masterKeyBytes, len(key))
		}
		return key, nil
	}
	return masterKeyFromKeyring()
}

func masterKeyFromKeyring() ([]byte, error) {
	stored, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(stored)
		if decErr != nil {
			return nil, fmt.Errorf("decode keyring master key: %w", decErr)
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("read keyring master key: %w", err)
	}
	key := make([]byte, masterKeyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("store master key in keyring: %w", err)
	}
	return key, nil
}

// deriveRowKey derives a row-and-purpose-bound AES-256 key from the
// master key using argon2id, the standard memory-hard KDF construction,
// keyed on a random per-row salt plus purpose (e.g. "api_alias.api_key").
func deriveRowKey(masterKey []byte, salt []byte, purpose string) []byte {
	return argon2.IDKey(append(masterKey, []byte(purpose)...), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Encrypt seals plaintext under a freshly-derived row key bound to
// purpose, returning the three-column encrypted shape. Empty plaintext
// encrypts to an empty Value so absent secrets round-trip as absent.
func Encrypt(masterKey []byte, purpose, plaintext string) (Value, error) {
	if plaintext == "" {
		return Value{}, nil
	}
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Value{}, fmt.Errorf("generate salt: %w", err)
	}
	rowKey := deriveRowKey(masterKey, salt, purpose)
	gcm, err := newGCM(rowKey)
	if err != nil {
		return Value{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Value{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return Value{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt reverses Encrypt. Any tampering with Ciphertext, Salt, or Nonce
// causes the AEAD open step to fail rather than silently return garbage.
func Decrypt(masterKey []byte, purpose string, v Value) (string, error) {
	if v.Ciphertext == "" {
		return "", nil
	}
	salt, err := base64.StdEncoding.DecodeString(v.Salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(v.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(v.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	rowKey := deriveRowKey(masterKey, salt, purpose)
	gcm, err := newGCM(rowKey)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
