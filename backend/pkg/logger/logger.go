package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry written by the global logger
const ServiceName = "bizgraph-resolver"

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Init builds the global logger for the given environment.
// level overrides the default level ("debug" in development, "info" in production) when non-empty.
func Init(env, level string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level = strings.TrimSpace(level); level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := config.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return err
	}

	Set(built)
	return nil
}

// Set replaces the global logger. Tests use it to install zap.NewNop or an observer core.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		_ = global.Sync()
	}
}

// Get returns the global logger instance
func Get() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		// Fallback to a basic logger if not initialized
		fallback, _ := zap.NewDevelopment()
		return fallback
	}
	return l
}

// Named returns the global logger scoped to a component.
func Named(component string) *zap.Logger {
	return Get().Named(component)
}
