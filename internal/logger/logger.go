// Package logger adds severity levels and optional rotated file output on
// top of the standard library logger.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the severity of a log message.
type Level int32

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int32(l))
}

var current atomic.Int32

func init() {
	current.Store(int32(Info))
}

// Options configures the process-wide logger.
type Options struct {
	Level string
	// File enables rotated file output in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel converts a level name to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}

// SetLevel changes the minimum level that is written.
func SetLevel(l Level) {
	current.Store(int32(l))
}

// Enabled reports whether messages at l are currently written.
func Enabled(l Level) bool {
	return int32(l) >= current.Load()
}

// Setup applies opts to the standard logger. The returned closer releases
// the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	SetLevel(lvl)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if opts.File == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func logf(l Level, format string, v ...interface{}) {
	if !Enabled(l) {
		return
	}
	log.Output(3, l.String()+": "+fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...interface{}) { logf(Debug, format, v...) }

func Infof(format string, v ...interface{}) { logf(Info, format, v...) }

func Warnf(format string, v ...interface{}) { logf(Warn, format, v...) }

func Errorf(format string, v ...interface{}) { logf(Error, format, v...) }
