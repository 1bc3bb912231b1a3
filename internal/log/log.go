// ABOUTME: Leveled printf logging with per-component names, always written off stdout
// ABOUTME: Global level via SetLevel; stdout belongs to the agent protocol and the chat host

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// Level constants matching slog levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	level atomic.Int64

	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

func init() {
	level.Store(int64(LevelInfo))
}

// SetLevel sets the global log level.
func SetLevel(l slog.Level) {
	level.Store(int64(l))
}

// GetLevel returns the current log level.
func GetLevel() slog.Level {
	return slog.Level(level.Load())
}

// SetOutput redirects log output and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// ParseLevel maps "debug", "info", "warn"/"warning", "error" to a level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func enabled(l slog.Level) bool {
	return slog.Level(level.Load()) <= l
}

func emit(tag, name, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	outMu.Lock()
	defer outMu.Unlock()
	if name != "" {
		fmt.Fprintf(out, "[%s] %s: %s\n", tag, name, msg)
		return
	}
	fmt.Fprintf(out, "[%s] %s\n", tag, msg)
}

// Debug logs a debug message if the level allows it.
func Debug(format string, args ...any) {
	if !enabled(LevelDebug) {
		return
	}
	emit("DEBUG", "", format, args...)
}

// Info logs an info message if the level allows it.
func Info(format string, args ...any) {
	if !enabled(LevelInfo) {
		return
	}
	emit("INFO", "", format, args...)
}

// Warn logs a warning message if the level allows it.
func Warn(format string, args ...any) {
	if !enabled(LevelWarn) {
		return
	}
	emit("WARN", "", format, args...)
}

// Error logs an error message (always emitted).
func Error(format string, args ...any) {
	emit("ERROR", "", format, args...)
}

// Logger prefixes every line with a component name. The zero value logs
// without a prefix; a nil *Logger is valid and logs the same way.
type Logger struct {
	name string
}

// New returns a logger for the named component.
func New(name string) *Logger {
	return &Logger{name: name}
}

// With returns a child logger named "parent.sub".
func (l *Logger) With(sub string) *Logger {
	if l == nil || l.name == "" {
		return New(sub)
	}
	return New(l.name + "." + sub)
}

// Name returns the component name.
func (l *Logger) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

func (l *Logger) Debug(format string, args ...any) {
	if !enabled(LevelDebug) {
		return
	}
	emit("DEBUG", l.Name(), format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	if !enabled(LevelInfo) {
		return
	}
	emit("INFO", l.Name(), format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	if !enabled(LevelWarn) {
		return
	}
	emit("WARN", l.Name(), format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	emit("ERROR", l.Name(), format, args...)
}

var ansiRe = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

// StripANSI removes CSI, OSC, and two-byte escape sequences from s.
func StripANSI(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}
	return ansiRe.ReplaceAllString(s, "")
}
