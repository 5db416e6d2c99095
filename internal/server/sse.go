// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// doneMarker ends every event stream.
const doneMarker = "[DONE]"

// sseWriter writes "data: ...\n\n" frames and flushes each one. After the
// first write error every later write is a no-op returning that error.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

// startSSE sets the streaming headers, writes the 200 status and returns a
// frame writer. contentType is text/plain for /chat and text/event-stream
// for the comparison stream. The server's write timeout is lifted for the
// response; the upstream call timeout bounds how long it runs.
func startSSE(w http.ResponseWriter, contentType string) *sseWriter {
	// Not every writer supports deadlines (httptest.ResponseRecorder).
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := &sseWriter{w: w}
	sw.flusher, _ = w.(http.Flusher)
	sw.flush()
	return sw
}

// data writes v as one JSON frame.
func (sw *sseWriter) data(v any) error {
	if sw.err != nil {
		return sw.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sw.raw(b)
}

// done writes the terminal marker.
func (sw *sseWriter) done() error {
	return sw.raw([]byte(doneMarker))
}

func (sw *sseWriter) raw(payload []byte) error {
	if sw.err != nil {
		return sw.err
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		sw.err = err
		return err
	}
	sw.flush()
	return nil
}

func (sw *sseWriter) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
