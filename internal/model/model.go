// Package model provides the language-model gateway.
//
// The gateway wraps Genkit generation behind a small Client interface so the
// agent workflow owns the tool loop: tool-call requests surface to the caller
// instead of being auto-executed. Resilience (retry, circuit breaker, rate
// limiting) lives here so callers see either a usable response or a
// classified error.
package model

import (
	"context"
	"errors"

	"github.com/firebase/genkit/go/ai"
)

// ErrModelUnavailable indicates the model could not serve the request
// after retries, or the circuit breaker is rejecting calls.
var ErrModelUnavailable = errors.New("model unavailable")

// Request is a single generation request.
type Request struct {
	// System is the system prompt. Empty means no system message.
	System string

	// Messages is the conversation so far, oldest first.
	// The gateway does not mutate the slice or its messages.
	Messages []*ai.Message

	// Tools are the tool definitions advertised to the model.
	Tools []ai.ToolRef
}

// Response is the outcome of one model invocation.
// Exactly one of Text / ToolCalls is meaningful: when the model requests
// tools, Text may be empty and ToolCalls carries the requests.
type Response struct {
	// Text is the model's text output.
	Text string

	// ToolCalls are tool invocation requests the model wants executed.
	ToolCalls []*ai.ToolRequest

	// Message is the raw model message, kept so callers can fold it back
	// into the conversation verbatim (tool-request parts included).
	Message *ai.Message
}

// HasToolCalls reports whether the model requested tool execution.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ChunkFunc receives streamed text fragments in generation order.
// Returning an error aborts the stream and fails the request.
type ChunkFunc func(ctx context.Context, text string) error

// Client is the interface the agent workflow depends on.
type Client interface {
	// Complete runs one generation call and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream runs one generation call, forwarding text fragments to fn as
	// they arrive. The complete response is returned after the stream ends.
	Stream(ctx context.Context, req *Request, fn ChunkFunc) (*Response, error)
}
