// Package log implements the logger interface used by the card security stack.
//
// Logging is disabled until a logger is registered with SetLogger. Calling
// SetLogger(nil) disables it again.
//
// The package also provides WriterLogger, a basic implementation that writes
// lines of formatted output to an io.Writer.
package log

import (
	"sync/atomic"
)

type holder struct {
	l Logger
}

var logger atomic.Pointer[holder]

// SetLogger registers the process-wide logger.
// In order to disable logging set the parameter l to nil.
func SetLogger(l Logger) {
	if l == nil {
		logger.Store(nil)
		return
	}
	logger.Store(&holder{l: l})
}

func current() Logger {
	h := logger.Load()
	if h == nil {
		return nil
	}
	return h.l
}

// Debug for debug level logging.
func Debug(v ...interface{}) {
	if l := current(); l != nil {
		l.Debug(v...)
	}
}

// Info for info level logging.
func Info(v ...interface{}) {
	if l := current(); l != nil {
		l.Info(v...)
	}
}

// Notice for notice level logging.
func Notice(v ...interface{}) {
	if l := current(); l != nil {
		l.Notice(v...)
	}
}

// Warning for warning level logging.
func Warning(v ...interface{}) {
	if l := current(); l != nil {
		l.Warning(v...)
	}
}

// Error for error level logging.
func Error(v ...interface{}) {
	if l := current(); l != nil {
		l.Error(v...)
	}
}
