package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestCurrentTime(t *testing.T) {
	t.Parallel()

	tool, err := NewCurrentTime()
	if err != nil {
		t.Fatalf("NewCurrentTime() error = %v", err)
	}
	reg := newTestRegistry(t, tool)

	t.Run("defaults to UTC", func(t *testing.T) {
		t.Parallel()

		res := reg.Invoke(context.Background(), "current_time", json.RawMessage(`{}`))
		if res.Status != StatusSuccess {
			t.Fatalf("status = %q, error = %+v", res.Status, res.Error)
		}
		if tz := res.Data["timezone"]; tz != "UTC" {
			t.Errorf("timezone = %v, want UTC", tz)
		}
		stamp, _ := res.Data["rfc3339"].(string)
		if _, err := time.Parse(time.RFC3339, stamp); err != nil {
			t.Errorf("rfc3339 = %q does not parse: %v", stamp, err)
		}
	})

	t.Run("honors timezone", func(t *testing.T) {
		t.Parallel()

		res := reg.Invoke(context.Background(), "current_time", json.RawMessage(`{"timezone":"Asia/Taipei"}`))
		if res.Status != StatusSuccess {
			t.Fatalf("status = %q, error = %+v", res.Status, res.Error)
		}
		if tz := res.Data["timezone"]; tz != "Asia/Taipei" {
			t.Errorf("timezone = %v, want Asia/Taipei", tz)
		}
	})

	t.Run("rejects unknown timezone", func(t *testing.T) {
		t.Parallel()

		res := reg.Invoke(context.Background(), "current_time", json.RawMessage(`{"timezone":"Mars/Olympus"}`))
		if res.Status != StatusError || res.Error == nil || res.Error.Code != ErrCodeInvalidArgs {
			t.Fatalf("result = %+v, want invalid-args error", res)
		}
	})
}
