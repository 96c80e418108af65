package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewWithWriterFormats(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, "info", "json")
	l.Info("hello", "component", "test")
	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Errorf("expected json output, got %s", buf.String())
	}

	buf.Reset()
	l = newWithWriter(&buf, "info", "text")
	l.Info("hello", "component", "test")
	if !strings.Contains(buf.String(), "component=test") {
		t.Errorf("expected text output, got %s", buf.String())
	}

	buf.Reset()
	l = newWithWriter(&buf, "warn", "text")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %s", buf.String())
	}
}
