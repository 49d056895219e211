//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"saas-billing/internal/config"
)

func TestWith_AttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := newWithWriter(&buf, config.LogConfig{Level: "debug", Format: "json"}, false)

	ctx := WithTraceID(context.Background(), "tr-1")
	ctx = WithUserID(ctx, "U1")
	ctx = WithEventID(ctx, "evt_1")
	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a json line, got %q: %v", buf.String(), err)
	}
	for k, want := range map[string]string{"trace_id": "tr-1", "user_id": "U1", "event_id": "evt_1", "service": "billing"} {
		if line[k] != want {
			t.Errorf("%s = %v, want %q", k, line[k], want)
		}
	}
	if TraceID(ctx) != "tr-1" {
		t.Errorf("TraceID = %q", TraceID(ctx))
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		dev  bool
		want string
	}{
		{"sk_test_abcdef123456", false, "sk_t...56"},
		{"short", false, "***"},
		{"sk_test_abcdef123456", true, "sk_test_abcdef123456"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in, tt.dev); got != tt.want {
			t.Errorf("Redact(%q, %v) = %q, want %q", tt.in, tt.dev, got, tt.want)
		}
	}
}
