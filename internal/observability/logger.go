// Package observability builds the logger and Prometheus metrics shared by
// the exchange binaries.
package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// NewLogger creates a zap logger based on configuration.
func NewLogger(config LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if strings.EqualFold(config.Format, "console") || strings.EqualFold(config.Format, "text") {
		zc = zap.NewDevelopmentConfig()
		zc.Encoding = "console"
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "json"
	}
	zc.Level = ParseLevel(config.Level)

	switch strings.ToLower(config.Output) {
	case "stderr":
		zc.OutputPaths = []string{"stderr"}
	case "", "stdout":
		zc.OutputPaths = []string{"stdout"}
	default:
		zc.OutputPaths = []string{config.Output}
	}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// ParseLevel parses the log level string. Unknown levels map to info.
func ParseLevel(level string) zap.AtomicLevel {
	switch strings.ToLower(level) {
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}
