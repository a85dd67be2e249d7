package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func capture(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Output: &buf, Service: "test"}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("no log output")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, line)
	}
	return entry
}

func TestLogFormatting(t *testing.T) {
	log, buf := capture(LevelInfo)

	log.Info("scanned %d messages", 42)

	entry := decodeLine(t, buf)
	if entry["message"] != "scanned 42 messages" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["service"] != "test" {
		t.Errorf("service = %v", entry["service"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := capture(LevelError)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("hidden")
	if buf.Len() != 0 {
		t.Fatalf("below-threshold output: %q", buf.String())
	}

	log.Error("visible")
	if buf.Len() == 0 {
		t.Fatal("error output suppressed")
	}
}

func TestFieldHelpersDeriveWithoutMutating(t *testing.T) {
	base, buf := capture(LevelInfo)

	derived := base.WithField("sender", "news@shop.example.com").
		WithFields(map[string]any{"count": 3}).
		WithDuration(1500 * time.Microsecond)
	derived.Info("fold complete")

	entry := decodeLine(t, buf)
	if entry["sender"] != "news@shop.example.com" {
		t.Errorf("sender field = %v", entry["sender"])
	}
	if entry["count"] != float64(3) {
		t.Errorf("count field = %v", entry["count"])
	}
	if entry["duration_ms"] != 1.5 {
		t.Errorf("duration_ms = %v", entry["duration_ms"])
	}

	buf.Reset()
	base.Info("plain")
	entry = decodeLine(t, buf)
	if _, ok := entry["sender"]; ok {
		t.Error("field leaked back into the base logger")
	}
}

func TestWithErrorNilPassthrough(t *testing.T) {
	log, _ := capture(LevelInfo)
	if log.WithError(nil) != log {
		t.Error("nil error must return the same logger")
	}
}
