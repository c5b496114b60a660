package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"  INFO  ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Level: "info", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("hello", String("k", "v"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["msg"] != "hello" || record["k"] != "v" {
		t.Fatalf("unexpected record %v", record)
	}
	if record["level"] != "info" {
		t.Errorf("unexpected level %v", record["level"])
	}
	if record["ts"] == "" {
		t.Error("expected a ts field")
	}
}

func TestNewFromBasicsCreatesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := NewFromBasics("debug", "json", dir)
	if err != nil {
		t.Fatalf("NewFromBasics failed: %v", err)
	}
	logger.Debug("tee check")

	data, err := os.ReadFile(filepath.Join(dir, "flowline.log"))
	if err != nil {
		t.Fatalf("read teed log file: %v", err)
	}
	if !strings.Contains(string(data), "tee check") {
		t.Fatalf("log file missing record: %q", data)
	}
}

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(&consoleHandler{writer: &buf, level: levelVar})

	NewComponentLogger(logger, "router").Info("message text",
		String("zulu", "last"),
		Int("alpha", 1))

	line := strings.TrimSuffix(buf.String(), "\n")
	if !strings.Contains(line, "INFO") {
		t.Errorf("missing level: %q", line)
	}
	if !strings.Contains(line, "[router]") {
		t.Errorf("missing component tag: %q", line)
	}
	if !strings.Contains(line, "message text") {
		t.Errorf("missing message: %q", line)
	}
	// Attributes render sorted by key.
	if strings.Index(line, "alpha=1") > strings.Index(line, "zulu=last") {
		t.Errorf("attributes not sorted: %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Errorf("color codes must be off for non-terminal writers: %q", line)
	}
}

func TestConsoleHandlerLevelGate(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(&consoleHandler{writer: &buf, level: levelVar})

	logger.Info("suppressed")
	logger.Warn("emitted")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("info record must be gated: %q", out)
	}
	if !strings.Contains(out, "emitted") {
		t.Errorf("warn record must pass: %q", out)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	// Must not panic and must report disabled at every level.
	logger.Error("dropped")
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("nop logger must be disabled")
	}
}
