package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) || logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected info level by default")
	}
}

func TestNewJSONDebug(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "DEBUG", Format: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level")
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected invalid format error")
	}
}
