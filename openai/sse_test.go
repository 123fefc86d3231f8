// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package openai

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSSEReaderYieldsFramesAndDone(t *testing.T) {
	body := "data: {\"a\":1}\n\n" +
		"data: {\"a\":2}\n\n" +
		"data: [DONE]\n\n"
	r := NewSSEReader(strings.NewReader(body))

	got, err := r.Next()
	if err != nil || got != `{"a":1}` {
		t.Fatalf("Next() = %q, %v", got, err)
	}
	got, err = r.Next()
	if err != nil || got != `{"a":2}` {
		t.Fatalf("Next() = %q, %v", got, err)
	}
	got, err = r.Next()
	if err != nil || got != DoneSentinel {
		t.Fatalf("Next() = %q, %v", got, err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Next() after DONE = %v, want io.EOF", err)
	}
}

func TestSSEReaderRejectsMalformedFrame(t *testing.T) {
	r := NewSSEReader(strings.NewReader("not-a-frame\n\n"))
	if _, err := r.Next(); err == nil {
		t.Fatal("expected an error for a line missing the data: prefix")
	}
}

func TestSSEWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame(`{"a":1}`); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteDone(); err != nil {
		t.Fatal(err)
	}
	want := "data: {\"a\":1}\n\ndata: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
}
