package session

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	s := New(WithSlogLogger(slog.New(handler)))
	s.logf("probe of %s failed", "server01")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "probe of server01 failed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestSetSlogLoggerNil(t *testing.T) {
	s := New()
	s.SetSlogLogger(nil)
	// Silent, not panicking.
	s.logf("dropped line")
}
