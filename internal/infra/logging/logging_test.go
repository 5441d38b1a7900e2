package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"agent-relay/internal/config"
)

func TestWithAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, config.LogConfig{Level: "debug", Format: "json"}, false)

	ctx := WithChatID(WithJobID(WithTraceID(context.Background(), "t-1"), "j-1"), "c-1")
	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	for k, want := range map[string]string{"trace_id": "t-1", "job_id": "j-1", "chat_id": "c-1", "message": "hello"} {
		if line[k] != want {
			t.Errorf("%s = %v, want %s", k, line[k], want)
		}
	}
	if TraceID(ctx) != "t-1" {
		t.Errorf("TraceID = %q", TraceID(ctx))
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, config.LogConfig{Level: "warn"}, false)
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	l.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Fatal("warn should be written")
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("short", false); got != "***" {
		t.Errorf("Redact(short) = %q", got)
	}
	if got := Redact("please add a unit test", false); got != "plea...st" {
		t.Errorf("Redact(long) = %q", got)
	}
	if got := Redact("kept as is", true); got != "kept as is" {
		t.Errorf("dev Redact = %q", got)
	}
}
