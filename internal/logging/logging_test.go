package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHCORE_LOG_DEV", "1")
	t.Setenv("AUTHCORE_LOG_LEVEL", "")
	if cfg := ConfigFromEnv(); !cfg.Dev || cfg.Level != "debug" {
		t.Fatalf("unexpected dev config %+v", cfg)
	}

	t.Setenv("AUTHCORE_LOG_DEV", "")
	t.Setenv("AUTHCORE_LOG_LEVEL", "warn")
	if cfg := ConfigFromEnv(); cfg.Dev || cfg.Level != "warn" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestNewHonoursLevel(t *testing.T) {
	logger, err := New(Config{Level: "ERROR"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn should be filtered at error level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error should be enabled")
	}

	if _, err := New(Config{Level: "debug", Dev: true}); err != nil {
		t.Fatalf("dev logger: %v", err)
	}
}
