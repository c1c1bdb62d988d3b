// Package logger wraps zap with the component-tagging conventions used
// throughout GenieFlow: a process-wide default plus per-component children
// created via WithFields.
package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/genieflow/genieflow/internal/common/config"
)

// Logger wraps a *zap.Logger.
type Logger struct {
	z *zap.Logger
}

// LoggingConfig controls level and output format.
type LoggingConfig = config.LoggingConfig

// NewLogger builds a Logger for the given config. Format "json" produces
// structured output suitable for log aggregation; anything else falls back
// to zap's console encoder.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format != "json" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	z, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// WithFields returns a child logger that always includes the given fields,
// e.g. log.WithFields(zap.String("component", "session-manager")).
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }

var defaultLogger atomic.Pointer[Logger]

// SetDefault publishes a process-wide default logger.
func SetDefault(l *Logger) { defaultLogger.Store(l) }

// Default returns the process-wide default logger, building a bare-bones
// one on first use if SetDefault was never called.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l, _ := NewLogger(LoggingConfig{Level: "info", Format: "console"})
	if l == nil {
		l = &Logger{z: zap.NewNop()}
	}
	SetDefault(l)
	return l
}
