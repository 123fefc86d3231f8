// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package llamasrv

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bodhi-app/bodhi/db"
	"github.com/bodhi-app/bodhi/hub"
)

type stubResolver struct {
	file *db.HubFile
	err  error
}

func (s *stubResolver) Resolve(ctx context.Context, a db.Alias) (*db.HubFile, error) {
	return s.file, s.err
}

func TestFingerprintChangesWithContextParams(t *testing.T) {
	a := Fingerprint("/models/a.gguf", db.ContextParams{NCtx: 4096})
	b := Fingerprint("/models/a.gguf", db.ContextParams{NCtx: 8192})
	if a == b {
		t.Fatal("expected different context params to produce different fingerprints")
	}
	c := Fingerprint("/models/a.gguf", db.ContextParams{NCtx: 4096})
	if a != c {
		t.Fatal("expected identical inputs to produce identical fingerprints")
	}
}

func TestEnsureLoadedReturnsAliasNotReady(t *testing.T) {
	m := NewManager(&stubResolver{err: hub.ErrAliasNotReady}, "/bin/true", t.TempDir())
	outcome, err := m.EnsureLoaded(context.Background(), db.Alias{Alias: "missing"})
	if outcome != AliasNotReady {
		t.Fatalf("EnsureLoaded() outcome = %v, want AliasNotReady (err=%v)", outcome, err)
	}
}

func TestCompleteReturnsNotReadyWhenEmpty(t *testing.T) {
	m := NewManager(&stubResolver{}, "/bin/true", t.TempDir())
	var sink bytes.Buffer
	outcome, err := m.Complete(context.Background(), "/v1/chat/completions", []byte(`{}`), &sink)
	if outcome != NotReady {
		t.Fatalf("Complete() outcome = %v, want NotReady (err=%v)", outcome, err)
	}
}

func TestCompleteForwardsBodyByteForByte(t *testing.T) {
	var gotBody []byte
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		w.Write([]byte("data: {\"a\":1}\n\ndata: [DONE]\n\n"))
	}))
	defer worker.Close()

	m := NewManager(&stubResolver{}, "/bin/true", t.TempDir())
	m.mu.Lock()
	m.state = Ready
	m.worker = &Server{baseURL: worker.URL}
	m.mu.Unlock()

	var sink bytes.Buffer
	outcome, err := m.Complete(context.Background(), "/v1/chat/completions", []byte(`{"stream":true}`), &sink)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Ok {
		t.Fatalf("Complete() outcome = %v, want Ok", outcome)
	}
	if string(gotBody) != `{"stream":true}` {
		t.Fatalf("worker received %q", gotBody)
	}
	want := "data: {\"a\":1}\n\ndata: [DONE]\n\n"
	if sink.String() != want {
		t.Fatalf("sink = %q, want %q", sink.String(), want)
	}
}

func TestCompleteReturnsUpstreamErrorOnNon200(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer worker.Close()

	m := NewManager(&stubResolver{}, "/bin/true", t.TempDir())
	m.mu.Lock()
	m.state = Ready
	m.worker = &Server{baseURL: worker.URL}
	m.mu.Unlock()

	var sink bytes.Buffer
	outcome, err := m.Complete(context.Background(), "/v1/chat/completions", []byte(`{}`), &sink)
	if outcome != UpstreamError || err == nil {
		t.Fatalf("Complete() = %v, %v, want UpstreamError with an error", outcome, err)
	}
}

func TestTryStopOnEmptyIsNoop(t *testing.T) {
	m := NewManager(&stubResolver{}, "/bin/true", t.TempDir())
	if err := m.TryStop(context.Background()); err != nil {
		t.Fatalf("TryStop() on empty manager = %v, want nil", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Empty: "empty", Loading: "loading", Ready: "ready", Stopping: "stopping", Failed: "failed"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
