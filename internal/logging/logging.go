// Package logging builds the zap logger used across specgate.
//
// Logs always go to stderr: stdout is reserved for command output and
// the hook protocol. Sensitive field values are redacted at the encoder
// so tokens never reach the log stream, even by accident.
package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/specgate/internal/config"
)

// New builds a logger from the logging section of the configuration.
// A non-nil otelProvider additionally bridges log entries to OTLP.
func New(cfg config.LoggingConfig, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var base zapcore.Encoder
	if cfg.Format == "console" {
		base = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		base = zapcore.NewJSONEncoder(encoderCfg)
	}

	encoder, err := newRedactingEncoder(base)
	if err != nil {
		return nil, fmt.Errorf("failed to build redacting encoder: %w", err)
	}

	var core zapcore.Core = zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	if otelProvider != nil {
		core = zapcore.NewTee(core, otelzap.NewCore("specgate",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	logger := zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))
	return logger.With(zap.String("service", "specgate")), nil
}

// Secret creates a field carrying only the secret's length.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val.Value())))
}
