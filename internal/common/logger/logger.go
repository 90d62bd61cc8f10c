// Package logger provides structured logging for mission control built on zap.
package logger

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap with mission-control specific field helpers.
type Logger struct {
	zap    *zap.Logger
	sugar  *zap.SugaredLogger
	fields []zap.Field
}

// Config controls logger construction.
type Config struct {
	Level      string
	Format     string // "json" or "text"
	OutputPath string
	UseUTC     bool
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide logger, creating it on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		log, err := NewLogger(Config{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: detectLogFormat(),
		})
		if err != nil {
			log = &Logger{zap: zap.NewNop(), sugar: zap.NewNop().Sugar()}
		}
		defaultLogger = log
	})
	return defaultLogger
}

// NewLogger builds a Logger from config.
func NewLogger(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	if cfg.UseUTC {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	}

	var encoder zapcore.Encoder
	if cfg.Format == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	out := zapcore.Lock(os.Stdout)
	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out = zapcore.Lock(f)
	}

	core := zapcore.NewCore(encoder, out, level)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{zap: z, sugar: z.Sugar()}, nil
}

// detectLogFormat picks json when running in a container or production
// environment, text for local development.
func detectLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	switch strings.ToLower(os.Getenv("ENV")) {
	case "prod", "production":
		return "json"
	}
	return "text"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// WithFields returns a child logger with the given fields attached.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	merged := append(append([]zap.Field{}, l.fields...), fields...)
	z := l.zap.With(fields...)
	return &Logger{zap: z, sugar: z.Sugar(), fields: merged}
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// WithTaskID attaches a task_id field.
func (l *Logger) WithTaskID(id string) *Logger {
	return l.WithFields(zap.String("task_id", id))
}

// WithAgentID attaches an agent_id field.
func (l *Logger) WithAgentID(id string) *Logger {
	return l.WithFields(zap.String("agent_id", id))
}

// WithBoardID attaches a board_id field.
func (l *Logger) WithBoardID(id string) *Logger {
	return l.WithFields(zap.String("board_id", id))
}

// WithGatewayID attaches a gateway_id field.
func (l *Logger) WithGatewayID(id string) *Logger {
	return l.WithFields(zap.String("gateway_id", id))
}

// WithContext is a hook for request-scoped fields; currently returns l.
func (l *Logger) WithContext(_ context.Context) *Logger { return l }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync flushes buffered log entries.
func (l *Logger) Sync() error { return l.zap.Sync() }
