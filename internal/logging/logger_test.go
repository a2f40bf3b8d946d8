package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONLoggerCarriesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "")
	logger.Debug("hidden")
	logger.Info("started", "device_id", "lock-1")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["service"] != serviceName || line["version"] != Version || line["device_id"] != "lock-1" {
		t.Fatalf("log line = %v", line)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, slog.LevelDebug, "TEXT").Debug("poll")
	if !strings.Contains(buf.String(), "msg=poll") || !strings.Contains(buf.String(), "service=loqed-bridge") {
		t.Fatalf("text output = %q", buf.String())
	}
}
