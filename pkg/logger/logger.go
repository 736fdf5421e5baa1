package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	// A usable logger must exist before Init runs; startup code logs early.
	global.Store(zap.NewNop())
}

// Init builds the process-wide logger at the requested level. Unknown level
// strings fall back to info rather than failing startup.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	global.Store(built)
	return nil
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(strings.ToLower(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Logger returns the process-wide logger.
func Logger() *zap.Logger {
	return global.Load()
}

// Sync flushes any buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger tagged with the subsystem name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}
