package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(level))
		if err != nil {
			t.Fatalf("ParseLevel(LevelString(%v)): %v", level, err)
		}
		if parsed != level {
			t.Errorf("expected %v, got %v", level, parsed)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if !cfg.RedactText {
		t.Error("expected text redaction on by default")
	}
	if cfg.Component != "layoutconv" {
		t.Errorf("unexpected component %q", cfg.Component)
	}
}

func newBufferLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Writer = &buf
	cfg.Format = FormatJSON
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	return entry
}

func TestLoggerComponentAndRequestID(t *testing.T) {
	logger, buf := newBufferLogger(t, DefaultConfig())

	ctx := ContextWithRequestID(context.Background(), "req-1")
	logger.WithComponent("api").WithContext(ctx).Info("converted", "from", "qwerty")

	entry := decodeLine(t, buf)
	if entry["component"] != "api" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
	if entry["from"] != "qwerty" {
		t.Errorf("from = %v", entry["from"])
	}
}

func TestLoggerRedactsText(t *testing.T) {
	logger, buf := newBufferLogger(t, DefaultConfig())
	logger.Info("convert", "text", "hunter2", "api_token", "abc")

	entry := decodeLine(t, buf)
	if entry["text"] != redacted {
		t.Errorf("text not redacted: %v", entry["text"])
	}
	if entry["api_token"] != redacted {
		t.Errorf("api_token not redacted: %v", entry["api_token"])
	}

	cfg := DefaultConfig()
	cfg.RedactText = false
	logger, buf = newBufferLogger(t, cfg)
	logger.Info("convert", "text", "ghbdtn")
	if entry := decodeLine(t, buf); entry["text"] != "ghbdtn" {
		t.Errorf("text unexpectedly redacted: %v", entry["text"])
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"user_PASSWORD", true},
		{"secret", true},
		{"apikey", true},
		{"auth_token", true},
		{"text", true},
		{"layout", false},
		{"from", false},
		{"score", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key, true); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}

	if shouldRedact("text", false) {
		t.Error("text redacted with RedactText off")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "test-request-456")
	if got := RequestIDFromContext(ctx); got != "test-request-456" {
		t.Errorf("expected %q, got %q", "test-request-456", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestNewRequestID(t *testing.T) {
	id1, id2 := NewRequestID(), NewRequestID()
	if id1 == "" || id1 == id2 {
		t.Errorf("expected distinct ids, got %q and %q", id1, id2)
	}
}

func TestFileRotator(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	rotator, err := NewFileRotator(logPath, 1024, 2)
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	data := []byte("test log line\n")
	n, err := rotator.Write(data)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected to write %d bytes, wrote %d", len(data), n)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file was not created: %v", err)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	rotator, err := NewFileRotator(logPath, 100, 2)
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	line := []byte(strings.Repeat("x", 39) + "\n")
	for i := 0; i < 20; i++ {
		if _, err := rotator.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	files := rotator.Files()
	if len(files) != 3 {
		t.Fatalf("expected current file plus 2 backups, got %v", files)
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("backup beyond MaxBackups was kept")
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 100 {
		t.Errorf("current log is %d bytes, want <= 100", info.Size())
	}
}

func TestLoggerFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(t.TempDir(), "layoutd.log")

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.Info("started")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "started") {
		t.Errorf("log file missing entry: %q", data)
	}
}
