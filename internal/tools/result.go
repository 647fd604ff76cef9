package tools

import "fmt"

// Result status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error codes returned to the model. The model uses these to decide
// whether to retry, rephrase, or give up on a tool.
const (
	ErrCodeUnknownTool = "UNKNOWN_TOOL"
	ErrCodeInvalidArgs = "INVALID_ARGUMENTS"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeIO          = "IO_ERROR"
	ErrCodeInternal    = "INTERNAL_ERROR"
)

// Error is a structured tool error for model consumption.
// It is part of the Result payload, never a Go error: tool failures are
// data the model reasons about, not conditions that abort the turn.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the uniform envelope every tool returns.
// Status is always set; Data carries tool-specific output on success;
// Error is set when Status is StatusError.
type Result struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *Error         `json:"error,omitempty"`
}

// Errorf builds an error Result with a formatted message.
func Errorf(code, format string, args ...any) *Result {
	return &Result{
		Status:  StatusError,
		Message: "tool execution failed",
		Error: &Error{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}
