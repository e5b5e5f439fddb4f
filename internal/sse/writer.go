// Package sse implements the server-sent-events framing used by streaming
// chat replies.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer frames JSON payloads as SSE data events and flushes after each one so
// deltas reach the client immediately.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

func (w *Writer) Send(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
