package logger

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Logger defines the migrator logging contract.
// Implementations should support standard log levels and be safe for concurrent use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// StdLogger writes leveled, printf-style lines to an io.Writer.
type StdLogger struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// New creates a StdLogger writing to w. Debug lines are written only when
// verbose is set.
func New(w io.Writer, verbose bool) *StdLogger {
	return &StdLogger{w: w, verbose: verbose}
}

var (
	infoTag  = color.New(color.FgBlue).SprintFunc()
	warnTag  = color.New(color.FgYellow, color.Bold).SprintFunc()
	errorTag = color.New(color.FgRed, color.Bold).SprintFunc()
	debugTag = color.New(color.FgHiBlack).SprintFunc()
)

func (l *StdLogger) Info(msg string, args ...any) {
	l.write(infoTag("[INFO]"), msg, args)
}

func (l *StdLogger) Warn(msg string, args ...any) {
	l.write(warnTag("[WARN]"), msg, args)
}

func (l *StdLogger) Error(msg string, args ...any) {
	l.write(errorTag("[ERROR]"), msg, args)
}

func (l *StdLogger) Debug(msg string, args ...any) {
	if !l.verbose {
		return
	}
	l.write(debugTag("[DEBUG]"), msg, args)
}

func (l *StdLogger) write(tag, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s %s\n", tag, fmt.Sprintf(msg, args...))
}

// Discard drops every message.
type Discard struct{}

func (Discard) Info(string, ...any)  {}
func (Discard) Warn(string, ...any)  {}
func (Discard) Error(string, ...any) {}
func (Discard) Debug(string, ...any) {}
