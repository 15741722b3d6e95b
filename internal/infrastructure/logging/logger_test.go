package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{name: "json stdout", cfg: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{name: "text stderr", cfg: config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if logger := New(tt.cfg, "simulator", "1.0.0"); logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default("consumer")
	childLogger := logger.With("component", "sink")

	if childLogger == nil {
		t.Fatal("expected non-nil child logger")
	}
	if childLogger == logger {
		t.Error("expected child logger to be different from parent")
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	logger := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "consumer", "test")
	logger.Info("test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	want := map[string]string{
		"msg":     "test message",
		"key":     "value",
		"service": "consumer",
		"version": "test",
	}
	for k, v := range want {
		if logEntry[k] != v {
			t.Errorf("expected %s=%q, got %v", k, v, logEntry[k])
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := newWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "simulator", "test")
	logger.Debug("dropped")
	logger.Info("dropped")

	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}

	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Error("expected warn entry to be written")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing to see")
}
