package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/ricemill/backoffice/internal/errors"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log entry %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_BasicLogging(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{
		Output: &buf,
		Level:  LevelDebug,
	})

	log.Info(context.Background(), "test message", map[string]interface{}{
		"key": "value",
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["level"] != "info" {
		t.Errorf("expected level info, got %v", entry["level"])
	}
	if entry["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", entry["message"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected field key=value, got %v", entry["key"])
	}
}

func TestLogger_RequestIDPropagation(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelDebug})

	ctx := apperrors.WithRequestID(context.Background(), "test-request-id")
	log.Info(ctx, "test message")

	entry := decodeLines(t, &buf)[0]
	if entry["request_id"] != "test-request-id" {
		t.Errorf("expected request_id 'test-request-id', got %v", entry["request_id"])
	}
}

func TestLogger_LogLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     Level
		logFunc   func(*Logger)
		shouldLog bool
	}{
		{"debug at debug", LevelDebug, func(l *Logger) { l.Debug(context.Background(), "m") }, true},
		{"debug at info", LevelInfo, func(l *Logger) { l.Debug(context.Background(), "m") }, false},
		{"info at warn", LevelWarn, func(l *Logger) { l.Info(context.Background(), "m") }, false},
		{"warn at warn", LevelWarn, func(l *Logger) { l.Warn(context.Background(), "m") }, true},
		{"error at error", LevelError, func(l *Logger) { l.Error(context.Background(), "m", nil) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(New(&Config{Output: &buf, Level: tt.level}))
			if got := buf.Len() > 0; got != tt.shouldLog {
				t.Errorf("logged = %v, want %v", got, tt.shouldLog)
			}
		})
	}
}

func TestLogger_ErrorIncludesAppErrorCode(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelDebug}).WithComponent("auth")

	log.Error(context.Background(), "login failed", apperrors.Internal().WithCause(errors.New("db down")))

	entry := decodeLines(t, &buf)[0]
	if entry["component"] != "auth" {
		t.Errorf("expected component auth, got %v", entry["component"])
	}
	if entry["error_code"] != apperrors.CodeInternal {
		t.Errorf("expected error_code %s, got %v", apperrors.CodeInternal, entry["error_code"])
	}
	if !strings.Contains(entry["error"].(string), "db down") {
		t.Errorf("expected cause in error field, got %v", entry["error"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
