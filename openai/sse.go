// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package openai

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DoneSentinel is the terminal SSE frame OpenAI- and llama.cpp-compatible
// streaming endpoints send in place of a final JSON payload.
const DoneSentinel = "[DONE]"

const dataPrefix = "data: "

// SSEReader pulls successive "data: <payload>" frames off an
// OpenAI-compatible SSE body, grounded on the teacher's PromptStreaming
// parse loop. It returns raw payload strings (including DoneSentinel)
// without decoding JSON, so a caller that only needs to relay frames
// never has to parse a shape it doesn't own.
type SSEReader struct {
	r *bufio.Reader
}

// NewSSEReader wraps r for frame-by-frame reading.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{r: bufio.NewReader(r)}
}

// Next returns the next frame's payload, or io.EOF once the body is
// exhausted. Blank lines between frames are skipped silently.
func (s *SSEReader) Next() (string, error) {
	for {
		line, err := s.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return "", err
			}
			continue
		}
		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			if err != nil {
				return "", err
			}
			return "", fmt.Errorf("openai: unexpected SSE line, expected %q prefix, got %q", dataPrefix, line)
		}
		payload := string(line[len(dataPrefix):])
		if err != nil && err != io.EOF {
			return payload, err
		}
		return payload, nil
	}
}

// SSEWriter writes "data: <payload>" frames to an http.ResponseWriter,
// flushing after each one so a client sees tokens as they arrive rather
// than buffered until the handler returns.
type SSEWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewSSEWriter prepares w for SSE writing, setting the standard
// text/event-stream headers. It returns an error if w does not support
// flushing, which every production net/http ResponseWriter does.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("openai: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &SSEWriter{w: w, f: f}, nil
}

// WriteFrame writes one "data: <payload>" frame and flushes it.
func (s *SSEWriter) WriteFrame(payload string) error {
	if _, err := fmt.Fprintf(s.w, "%s%s\n\n", dataPrefix, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// WriteDone writes the terminal DoneSentinel frame.
func (s *SSEWriter) WriteDone() error {
	return s.WriteFrame(DoneSentinel)
}
