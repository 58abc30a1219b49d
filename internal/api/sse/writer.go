// Package sse provides Server-Sent Events support for realtime streams.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EventError is sent before the server ends a stream.
const EventError = "error"

// Writer writes Server-Sent Events to an HTTP response.
type Writer struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sends the stream headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{
		writer:  w,
		flusher: flusher,
	}, nil
}

// WriteRetry tells the client how long to wait before reconnecting.
func (w *Writer) WriteRetry(d time.Duration) error {
	if _, err := fmt.Fprintf(w.writer, "retry: %d\n\n", d.Milliseconds()); err != nil {
		return fmt.Errorf("failed to write retry: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteEvent writes one event. An empty id leaves the client's
// Last-Event-ID unchanged.
func (w *Writer) WriteEvent(id, eventType string, data []byte) error {
	var b strings.Builder
	if id != "" {
		b.WriteString("id: " + id + "\n")
	}
	if eventType != "" {
		b.WriteString("event: " + eventType + "\n")
	}
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")

	if _, err := w.writer.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteJSON writes an event with JSON-encoded data.
func (w *Writer) WriteJSON(id, eventType string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return w.WriteEvent(id, eventType, data)
}

// WriteComment writes a comment line, used as keep-alive.
func (w *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(w.writer, ": %s\n\n", text); err != nil {
		return fmt.Errorf("failed to write comment: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cursor  int64  `json:"cursor,omitempty"`
}

// WriteError writes an error event.
func (w *Writer) WriteError(code, message string, cursor int64) error {
	return w.WriteJSON("", EventError, &ErrorEvent{
		Code:    code,
		Message: message,
		Cursor:  cursor,
	})
}
