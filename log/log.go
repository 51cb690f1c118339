// Package log provides the logging utilities used throughout the travel
// agent core. It wraps zap so every component logs through the same
// structured sink regardless of whether it runs inside the Agent or the
// Gateway process.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level constants accepted by SetLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

var zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// newConsoleLogger builds the sugared logger the package exposes as
// Default: a console encoder over stdout at the package's shared atomic
// level, with the caller frame adjusted to skip this package's own
// wrapper functions.
func newConsoleLogger() *zap.SugaredLogger {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "lvl",
		NameKey:        "name",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stdout), zapLevel)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// Default is the process-wide sugared logger. Replace it in tests or
// alternate entry points by assigning a different *zap.SugaredLogger.
var Default = newConsoleLogger()

// SetLevel adjusts the minimum level the Default logger emits.
func SetLevel(level string) {
	switch level {
	case LevelDebug:
		zapLevel.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		zapLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		zapLevel.SetLevel(zapcore.ErrorLevel)
	case LevelFatal:
		zapLevel.SetLevel(zapcore.FatalLevel)
	default:
		zapLevel.SetLevel(zapcore.InfoLevel)
	}
}

// With returns a child logger carrying the given structured fields, e.g.
// log.With("session_id", id, "request_id", reqID).
func With(args ...any) *zap.SugaredLogger {
	return Default.With(args...)
}

func Debug(args ...any)                    { Default.Debug(args...) }
func Debugf(format string, args ...any)    { Default.Debugf(format, args...) }
func Info(args ...any)                     { Default.Info(args...) }
func Infof(format string, args ...any)     { Default.Infof(format, args...) }
func Warn(args ...any)                     { Default.Warn(args...) }
func Warnf(format string, args ...any)     { Default.Warnf(format, args...) }
func Error(args ...any)                    { Default.Error(args...) }
func Errorf(format string, args ...any)    { Default.Errorf(format, args...) }
func Fatalf(format string, args ...any)    { Default.Fatalf(format, args...) }
