package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogger(t *testing.T) {
	t.Run("emits one JSON line per entry", func(t *testing.T) {
		var buf bytes.Buffer
		Init(&buf, LevelInfo)

		Info("Order created", map[string]interface{}{"order_id": "o1"})

		line := strings.TrimSpace(buf.String())
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v (%q)", err, line)
		}
		if entry.Level != "INFO" {
			t.Errorf("level = %q, want INFO", entry.Level)
		}
		if entry.Message != "Order created" {
			t.Errorf("message = %q", entry.Message)
		}
		if entry.Context["order_id"] != "o1" {
			t.Errorf("context = %v", entry.Context)
		}
	})

	t.Run("filters below the minimum level", func(t *testing.T) {
		var buf bytes.Buffer
		Init(&buf, LevelWarn)

		Debug("noise")
		Info("noise")
		Warn("signal")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("lines = %d, want 1", len(lines))
		}
		if !strings.Contains(lines[0], "signal") {
			t.Errorf("kept the wrong line: %q", lines[0])
		}
	})

	t.Run("error entries carry the cause", func(t *testing.T) {
		var buf bytes.Buffer
		Init(&buf, LevelError)

		Error("push failed", errors.New("connection refused"))

		var entry LogEntry
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if entry.Error != "connection refused" {
			t.Errorf("error = %q", entry.Error)
		}
	})
}
