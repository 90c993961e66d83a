// Package logging constructs the sensor's zap logger, grounded in the
// teacher's per-subsystem named-child-logger convention (package-level
// loggers built once at startup via Named on a shared root logger).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root logger: a production JSON logger writing to
// logFile (zap's default stderr output when logFile is empty), or a
// no-op logger when enabled is false. The console logger used before
// the configuration is read comes from NewConsole.
func New(logFile string, enabled bool) (*zap.Logger, error) {
	if !enabled {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
	}
	return cfg.Build()
}

// NewConsole builds a development-style logger writing to stderr, used
// before the configuration file (and therefore the real log path) has
// been read.
func NewConsole() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}
