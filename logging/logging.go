// Package logging builds the process logger
// Levels follow the plugin INI convention: named (trace..off) or numeric 0-6
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultFile is where the log goes when no path is configured
const DefaultFile = "logs/KnowYourLimits.log"

// Off disables output; it sits above every zap level
const Off = zapcore.FatalLevel + 1

// ParseLevel accepts trace, debug, info, warn/warning, error, critical, off or 0-6
// trace maps to debug since zap has nothing finer
func ParseLevel(s string) (zapcore.Level, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		switch {
		case n <= 1:
			return zapcore.DebugLevel, nil
		case n == 2:
			return zapcore.InfoLevel, nil
		case n == 3:
			return zapcore.WarnLevel, nil
		case n == 4:
			return zapcore.ErrorLevel, nil
		case n == 5:
			return zapcore.DPanicLevel, nil
		default:
			return Off, nil
		}
	}

	switch v {
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error", "err":
		return zapcore.ErrorLevel, nil
	case "critical", "crit":
		return zapcore.DPanicLevel, nil
	case "off", "none":
		return Off, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Options selects sinks and the starting level
type Options struct {
	Level string
	// File is created along with its directory; empty disables the file sink
	File    string
	Console bool
}

// Logger bundles the zap logger with its runtime-adjustable level and open sinks
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel

	file *os.File
}

// New builds a console-encoded logger writing to the file sink and optionally stderr
func New(opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(lvl)

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("[15:04:05]")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	l := &Logger{Level: atom}
	var cores []zapcore.Core

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(f), atom))
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.Lock(os.Stderr), atom))
	}

	if len(cores) == 0 {
		l.Logger = zap.NewNop()
		return l, nil
	}
	l.Logger = zap.New(zapcore.NewTee(cores...))
	return l, nil
}

// SetLevel changes the level of every logger derived from l
func (l *Logger) SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	if lvl != l.Level.Level() {
		l.Level.SetLevel(lvl)
		l.Info("log level changed", zap.String("level", levelName(lvl)))
	}
	return nil
}

// Close flushes and releases the file sink
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func levelName(l zapcore.Level) string {
	if l == Off {
		return "off"
	}
	return l.String()
}
