package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	once   sync.Once
)

// Init builds the process logger: JSON in production, colored console
// elsewhere. Safe to call more than once; the first call wins.
func Init(environment, level string) *zap.Logger {
	once.Do(func() {
		var cfg zap.Config
		if environment == "production" || environment == "prod" {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			cfg.DisableStacktrace = true
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		var err error
		global, err = cfg.Build()
		if err != nil {
			panic("logger init: " + err.Error())
		}
		zap.ReplaceGlobals(global)
	})
	return global
}

// L returns the process logger, initializing a default one if needed.
func L() *zap.Logger {
	if global == nil {
		return Init("dev", "info")
	}
	return global
}

// Sync flushes buffered entries.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
