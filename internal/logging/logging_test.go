package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/specgate/internal/config"
)

func TestNewValidatesLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"}, nil)
	if err == nil {
		t.Fatal("expected error for invalid level")
	}

	logger, err := New(config.LoggingConfig{Level: "debug", Format: "console"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}
}

func TestRedactingEncoderScrubsFields(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := newRedactingEncoder(base)
	if err != nil {
		t.Fatalf("newRedactingEncoder: %v", err)
	}

	entry := zapcore.Entry{Message: "saving config"}
	buf, err := enc.EncodeEntry(entry, []zapcore.Field{
		zap.String("github_token", "ghp_abcdef1234567890abcdef"),
		zap.String("path", "/tmp/state.json"),
	})
	if err != nil {
		t.Fatalf("EncodeEntry: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "ghp_abcdef") {
		t.Errorf("token leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("missing redaction marker: %s", out)
	}
	if !strings.Contains(out, "/tmp/state.json") {
		t.Errorf("benign field altered: %s", out)
	}
}

func TestRedactingEncoderScrubsValuesByPattern(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := newRedactingEncoder(base)
	if err != nil {
		t.Fatalf("newRedactingEncoder: %v", err)
	}

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{
		zap.String("detail", "header was Bearer eyJhbGciOi"),
	})
	if err != nil {
		t.Fatalf("EncodeEntry: %v", err)
	}
	if strings.Contains(buf.String(), "eyJhbGciOi") {
		t.Errorf("bearer value leaked: %s", buf.String())
	}
}

func TestNewTestLoggerObserves(t *testing.T) {
	logger, observed := NewTestLogger()
	logger.Info("hello", zap.String("k", "v"))

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("observed %d entries", len(entries))
	}
	if entries[0].Message != "hello" {
		t.Errorf("message = %q", entries[0].Message)
	}
}
