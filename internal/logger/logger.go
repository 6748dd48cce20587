// Package logger configures the process-wide zap logger.
//
// The bridge speaks its protocol on stdout, so log output goes to stderr or a
// file and never to stdout.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger holds the configured zap logger.
type Logger struct {
	// Log is a no-op logger until Init succeeds.
	Log *zap.Logger
}

// New returns a Logger with a no-op zap logger.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init builds a JSON logger at the given level ("debug", "Info", "warn", ...).
// Entries are written to path, or to stderr when path is empty. Writing to
// stdout is refused.
func (l *Logger) Init(level string, path string) error {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	output := "stderr"
	if path != "" {
		output = path
	}
	if output == "stdout" || output == "/dev/stdout" {
		return fmt.Errorf("log output %q would corrupt the protocol stream", output)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	l.Log = zl
	return nil
}
