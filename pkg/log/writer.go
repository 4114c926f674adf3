package log

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
)

// Priority is the minimum level a WriterLogger emits.
type Priority int

const (
	DEBUG Priority = iota
	INFO
	NOTICE
	WARNING
	ERROR
)

var prefixes = map[Priority]string{
	DEBUG:   "[D] ",
	INFO:    "[I] ",
	NOTICE:  "[N] ",
	WARNING: "[W] ",
	ERROR:   "[E] ",
}

// WriterLogger writes timestamped lines to an io.Writer.
type WriterLogger struct {
	priority Priority
	out      *stdlog.Logger
}

// New returns a WriterLogger emitting messages of priority p and above.
func New(p Priority, w io.Writer) (*WriterLogger, error) {
	if w == nil {
		return nil, errors.New("log: nil writer")
	}
	if p < DEBUG || p > ERROR {
		return nil, fmt.Errorf("log: invalid priority %d", p)
	}
	return &WriterLogger{
		priority: p,
		out:      stdlog.New(w, "", stdlog.LstdFlags|stdlog.Lmicroseconds),
	}, nil
}

func (l *WriterLogger) print(p Priority, v ...interface{}) {
	if l == nil || p < l.priority {
		return
	}
	l.out.Print(prefixes[p] + fmt.Sprint(v...))
}

// Debug implements Logger.
func (l *WriterLogger) Debug(v ...interface{}) { l.print(DEBUG, v...) }

// Info implements Logger.
func (l *WriterLogger) Info(v ...interface{}) { l.print(INFO, v...) }

// Notice implements Logger.
func (l *WriterLogger) Notice(v ...interface{}) { l.print(NOTICE, v...) }

// Warning implements Logger.
func (l *WriterLogger) Warning(v ...interface{}) { l.print(WARNING, v...) }

// Error implements Logger.
func (l *WriterLogger) Error(v ...interface{}) { l.print(ERROR, v...) }
