// Package logging is the leveled, multi-output logger used by mathagent.
//
// Messages are printf-style and always take a context, so session ids set with
// WithSessionID are attached to every entry written during a request.
package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Severity is a log level.
type Severity int

const (
	DEBUG Severity = iota
	INFO
	WARN
	ERROR
	FATAL
)

var severityNames = map[Severity]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SEVERITY(%d)", int(s))
}

// ParseSeverity converts a level name such as "info" or "WARN" into a Severity.
func ParseSeverity(level string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", level)
}

// LogEntry is a single record handed to every Output.
type LogEntry struct {
	Time      time.Time
	Severity  Severity
	Message   string
	File      string
	Line      int
	SessionID string
	Fields    map[string]any
}

// Output receives log entries.
type Output interface {
	Write(entry LogEntry) error
	Sync() error
	Close() error
}

// Config configures a Logger.
type Config struct {
	Severity      Severity
	Outputs       []Output
	DefaultFields map[string]any
}

// Logger fans entries out to its outputs.
type Logger struct {
	mu       sync.Mutex
	severity Severity
	outputs  []Output
	fields   map[string]any
}

// NewLogger creates a logger. With no outputs configured it writes to stderr.
func NewLogger(cfg Config) *Logger {
	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []Output{NewConsoleOutput(true)}
	}
	fields := make(map[string]any, len(cfg.DefaultFields))
	for k, v := range cfg.DefaultFields {
		fields[k] = v
	}
	return &Logger{
		severity: cfg.Severity,
		outputs:  outputs,
		fields:   fields,
	}
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// GetLogger returns the process logger, creating an INFO console logger on first use.
func GetLogger() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(Config{Severity: INFO})
	}
	return defaultLogger
}

// SetLogger replaces the process logger.
func SetLogger(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// SetSeverity changes the minimum level that is written.
func (l *Logger) SetSeverity(s Severity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.severity = s
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{severity: l.severity, outputs: l.outputs, fields: merged}
}

func (l *Logger) Debug(ctx context.Context, format string, args ...any) {
	l.logf(ctx, DEBUG, format, args...)
}

func (l *Logger) Info(ctx context.Context, format string, args ...any) {
	l.logf(ctx, INFO, format, args...)
}

func (l *Logger) Warn(ctx context.Context, format string, args ...any) {
	l.logf(ctx, WARN, format, args...)
}

func (l *Logger) Error(ctx context.Context, format string, args ...any) {
	l.logf(ctx, ERROR, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(ctx context.Context, format string, args ...any) {
	l.logf(ctx, FATAL, format, args...)
	l.Sync()
	os.Exit(1)
}

// Sync flushes every output.
func (l *Logger) Sync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, out := range l.outputs {
		_ = out.Sync()
	}
}

// Close closes every output.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, out := range l.outputs {
		if err := out.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) logf(ctx context.Context, s Severity, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s < l.severity {
		return
	}

	entry := LogEntry{
		Time:     time.Now(),
		Severity: s,
		Message:  fmt.Sprintf(format, args...),
		Fields:   l.fields,
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		entry.File = shortFile(file)
		entry.Line = line
	}
	if ctx != nil {
		entry.SessionID = SessionIDFromContext(ctx)
	}

	for _, out := range l.outputs {
		if err := out.Write(entry); err != nil {
			fmt.Fprintf(os.Stderr, "logging: output write failed: %v\n", err)
		}
	}
}

func shortFile(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return path
	}
	if prev := strings.LastIndex(path[:idx], "/"); prev != -1 {
		return path[prev+1:]
	}
	return path[idx+1:]
}

type sessionKey struct{}

// WithSessionID returns a context whose log entries carry the session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFromContext returns the session id stored by WithSessionID.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
