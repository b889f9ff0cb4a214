// Package logging builds the zap loggers used by inboxd and inboxctl.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a daemon logger.
type Options struct {
	// File receives JSON lines. Its directory is created if missing.
	File    string
	Session string
	Level   zapcore.Level
	// Console gets a human readable copy; nil means stderr.
	Console io.Writer
}

func encoding() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

// New returns a logger that tees JSON to opts.File and console output to
// opts.Console. Every entry carries the session name and PID.
func New(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoding()), zapcore.AddSync(f), opts.Level),
		consoleCore(console, opts.Level),
	)
	return zap.New(core, zap.Fields(zap.String("session", opts.Session), zap.Int("pid", os.Getpid()))), nil
}

// NewConsole returns a stderr logger for command line tools.
func NewConsole(level zapcore.Level) *zap.Logger {
	return zap.New(consoleCore(os.Stderr, level))
}

func consoleCore(w io.Writer, level zapcore.Level) zapcore.Core {
	ec := encoding()
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(zapcore.AddSync(w)), level)
}
