package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSE event types for chat streaming.
const (
	EventChunk = "chunk" // partial response text
	EventDone  = "done"  // stream completed successfully
	EventError = "error" // error occurred during streaming
)

// ChunkPayload is the SSE data payload for streaming text fragments.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload is the SSE data payload when streaming completes.
type DonePayload struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SetHeaders prepares a response for SSE delivery. Call before the
// first WriteEvent.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one SSE event with a JSON-encoded data payload and
// flushes it immediately.
// SSE format: "event: <type>\ndata: <json>\n\n"
func WriteEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
