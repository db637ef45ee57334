// Package logging wraps charmbracelet/log for stow.
package logging

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	logger *log.Logger
	once   sync.Once
)

// New creates a logger writing to w. Debug mode adds caller and timestamps.
func New(w io.Writer, debug bool) *log.Logger {
	if debug {
		l := log.NewWithOptions(w, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			Prefix:          "stow",
		})
		l.SetLevel(log.DebugLevel)
		return l
	}
	l := log.New(w)
	l.SetLevel(log.InfoLevel)
	return l
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// NewBuffer returns a debug-level logger that records into a buffer.
func NewBuffer() (*log.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := log.New(buf)
	l.SetLevel(log.DebugLevel)
	return l, buf
}

// Default returns the process-wide logger, honouring DEBUG=1.
func Default() *log.Logger {
	once.Do(func() {
		logger = New(os.Stderr, os.Getenv("DEBUG") == "1")
	})
	return logger
}

// SetDebug switches the process-wide logger to debug output.
func SetDebug(enabled bool) {
	l := Default()
	if enabled {
		l.SetLevel(log.DebugLevel)
		l.SetReportCaller(true)
		l.SetReportTimestamp(true)
		return
	}
	l.SetLevel(log.InfoLevel)
}

// Debug logs debug messages if debug logging is enabled.
func Debug(msg interface{}, keyvals ...interface{}) {
	Default().Debug(msg, keyvals...)
}

// Info logs informational messages.
func Info(msg interface{}, keyvals ...interface{}) {
	Default().Info(msg, keyvals...)
}

// Warn logs warning messages.
func Warn(msg interface{}, keyvals ...interface{}) {
	Default().Warn(msg, keyvals...)
}

// Error logs error messages.
func Error(msg interface{}, keyvals ...interface{}) {
	Default().Error(msg, keyvals...)
}
