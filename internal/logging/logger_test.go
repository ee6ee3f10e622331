package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestWithRecordAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(captureLogger(&buf))
	defer slog.SetDefault(prev)

	WithRecord("ctx-1", "proj-1", "feature/auth").Info("linked")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["context_id"] != "ctx-1" || entry["project_id"] != "proj-1" || entry["branch"] != "feature/auth" {
		t.Errorf("Record fields missing from log entry: %v", entry)
	}
}

func TestWithEventAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	WithEvent(logger, "e1", strings.Repeat("ab", 20)).Info("processed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["event_id"] != "e1" {
		t.Errorf("event_id missing from log entry: %v", entry)
	}
	if entry["commit_hash"] != strings.Repeat("ab", 20) {
		t.Errorf("commit_hash missing from log entry: %v", entry)
	}
}
