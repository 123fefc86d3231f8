// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package berrors defines the typed error kinds used across Bodhi's service
// layer. A single conversion step in server/ maps a *berrors.Error to an
// OpenAI-shaped HTTP error body. Failures a caller has to branch on are
// returned as *berrors.Error so that callers can branch on Kind without
// string matching; other failures are ordinary wrapped errors, which the
// conversion step reports as InternalServer.
package berrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the buckets the HTTP boundary knows
// how to map to a status code and an OpenAI-style "type" string.
type Kind int

const (
	Unknown Kind = iota
	BadRequest
	Authentication
	Forbidden
	NotFound
	Conflict
	UnprocessableEntity
	InvalidAppState
	InternalServer
	ServiceUnavailable
)

// String returns the lowercase_snake name used in logs and as the OpenAI
// error "type" field, unless an Error sets Type to override it (see
// WireType; server/errors.go's notFoundModel does this).
func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "invalid_request_error"
	case Authentication:
		return "authentication_error"
	case Forbidden:
		return "forbidden_error"
	case NotFound:
		return "not_found_error"
	case Conflict:
		return "conflict_error"
	case UnprocessableEntity:
		return "unprocessable_entity_error"
	case InvalidAppState:
		return "invalid_app_state_error"
	case InternalServer:
		return "internal_server_error"
	case ServiceUnavailable:
		return "service_unavailable_error"
	default:
		return "unknown_error"
	}
}

// HTTPStatus returns the status code the router boundary should answer with
// for this Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case UnprocessableEntity:
		return http.StatusUnprocessableEntity
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	case InvalidAppState, InternalServer, Unknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed error carrying a stable machine-readable Code, a
// human-readable Message, structured Args for template substitution (e.g.
// the offending model name), and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Param   string
	Args    map[string]any
	// Type overrides the wire "type" string Kind.String() would otherwise
	// produce, for the cases where OpenAI's own API answers with an HTTP
	// status and a "type" that don't belong to the same Kind (e.g. an
	// unknown model is 404 but type "invalid_request_error"). Empty means
	// use Kind.String().
	Type  string
	cause error
}

// WireType returns the OpenAI-shaped error "type" field: Type if set,
// otherwise Kind.String().
func (e *Error) WireType() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Kind.String()
}

// WithType returns a copy of e with Type set, overriding the wire "type"
// string Kind.String() would otherwise produce.
func (e *Error) WithType(t string) *Error {
	cp := *e
	cp.Type = t
	return &cp
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is supports errors.Is(err, &Error{Code: C}) and errors.Is(err, &Error{Kind: X}):
// a target with a non-empty Code matches on Code alone, otherwise it
// matches on Kind. Message and cause are ignored.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind with a stable code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an *Error of the given kind that wraps cause, preserving
// errors.Is/As traversal to the original error.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithParam returns a copy of e with Param set, used for OpenAI-shaped
// error bodies that name the offending request field.
func (e *Error) WithParam(param string) *Error {
	cp := *e
	cp.Param = param
	return &cp
}

// WithArgs returns a copy of e with Args replaced by args.
func (e *Error) WithArgs(args map[string]any) *Error {
	cp := *e
	cp.Args = args
	return &cp
}

// Common constructors mirroring the kinds spec.md names explicitly.

func NotFoundf(code, format string, a ...any) *Error {
	return New(NotFound, code, fmt.Sprintf(format, a...))
}

func BadRequestf(code, format string, a ...any) *Error {
	return New(BadRequest, code, fmt.Sprintf(format, a...))
}

func Internalf(cause error, format string, a ...any) *Error {
	return Wrap(InternalServer, "internal_server_error", fmt.Sprintf(format, a...), cause)
}

// As is a thin wrapper over errors.As for *Error, used by the server
// boundary to recover structured fields from an arbitrary error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
