package logutil

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envLogLevel = "INFRASIGHT_LOG_LEVEL"

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Options controls how InitLogger builds the process logger.
type Options struct {
	Level  string
	Format string // "console" or "json"
}

// InitLogger builds the process wide logger. The level may be overridden
// through INFRASIGHT_LOG_LEVEL.
func InitLogger(opts ...Options) {
	o := Options{Level: "info", Format: "console"}
	if len(opts) > 0 {
		if opts[0].Level != "" {
			o.Level = opts[0].Level
		}
		if opts[0].Format != "" {
			o.Format = opts[0].Format
		}
	}
	if lvl := os.Getenv(envLogLevel); lvl != "" {
		o.Level = lvl
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = o.Format
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if o.Format == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	level, err := zapcore.ParseLevel(strings.ToLower(o.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewExample()
		l.Warn("falling back to example logger", zap.Error(err))
	}
	SetLogger(l)
}

// GetLogger returns the process logger. Before InitLogger it is a no-op logger.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the process logger, tests use it to install zaptest loggers.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}
