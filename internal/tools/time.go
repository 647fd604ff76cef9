package tools

import (
	"context"
	"time"
)

// NewCurrentTime creates the current_time tool. It needs no external
// services, so construction cannot fail beyond schema derivation.
func NewCurrentTime() (*Tool, error) {
	return NewTool(
		"current_time",
		"Get the current date and time, optionally in a specific timezone.",
		currentTime,
	)
}

func currentTime(_ context.Context, input CurrentTimeInput) *Result {
	loc := time.UTC
	if input.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(input.Timezone)
		if err != nil {
			return Errorf(ErrCodeInvalidArgs, "unknown timezone %q: %v", input.Timezone, err)
		}
	}

	now := time.Now().In(loc)
	return &Result{
		Status:  StatusSuccess,
		Message: "Current time in " + loc.String(),
		Data: map[string]any{
			"timezone": loc.String(),
			"rfc3339":  now.Format(time.RFC3339),
			"weekday":  now.Weekday().String(),
			"unix":     now.Unix(),
		},
	}
}
