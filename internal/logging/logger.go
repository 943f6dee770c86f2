// Package logging provides structured logging for botforge.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
	mu     sync.RWMutex
)

// Init initializes the global logger. Safe to call multiple times.
func Init() {
	once.Do(func() {
		var cfg zap.Config
		if os.Getenv("ENVIRONMENT") == "production" {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "ts"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			if parsed, err := zapcore.ParseLevel(lvl); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(parsed)
			}
		}

		l, err := cfg.Build()
		if err != nil {
			// Fallback to nop logger
			l = zap.NewNop()
		}
		set(l)
	})
}

func set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
}

// L returns the global structured logger
func L() *zap.Logger {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// S returns the global sugared logger (printf-style)
func S() *zap.SugaredLogger {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Replace swaps the global logger and returns a func restoring the previous one.
// Tests use it with zaptest/observer to assert on emitted entries.
func Replace(l *zap.Logger) func() {
	Init()
	mu.RLock()
	prev := logger
	mu.RUnlock()
	set(l)
	return func() { set(prev) }
}

// Sync flushes any buffered log entries. Call before app exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		_ = logger.Sync()
	}
}

// WithContext returns a logger with additional structured fields
func WithContext(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
