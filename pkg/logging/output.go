package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleOption configures a ConsoleOutput.
type ConsoleOption func(*ConsoleOutput)

// WithColor enables severity colouring.
func WithColor(enabled bool) ConsoleOption {
	return func(o *ConsoleOutput) {
		o.color = enabled
	}
}

// WithWriter redirects console output, mostly for tests.
func WithWriter(w io.Writer) ConsoleOption {
	return func(o *ConsoleOutput) {
		o.w = w
	}
}

// ConsoleOutput writes human-readable lines.
type ConsoleOutput struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewConsoleOutput writes to stderr when useStderr is true, otherwise stdout.
func NewConsoleOutput(useStderr bool, opts ...ConsoleOption) *ConsoleOutput {
	o := &ConsoleOutput{w: os.Stdout}
	if useStderr {
		o.w = os.Stderr
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var severityColors = map[Severity]*color.Color{
	DEBUG: color.New(color.FgHiBlack),
	INFO:  color.New(color.FgBlue),
	WARN:  color.New(color.FgYellow),
	ERROR: color.New(color.FgRed),
	FATAL: color.New(color.FgRed, color.Bold),
}

func (o *ConsoleOutput) Write(e LogEntry) error {
	level := fmt.Sprintf("%-5s", e.Severity)
	if o.color {
		if c, ok := severityColors[e.Severity]; ok {
			level = c.Sprint(level)
		}
	}

	var sb strings.Builder
	sb.WriteString(e.Time.Format("2006-01-02 15:04:05.000"))
	sb.WriteByte(' ')
	sb.WriteString(level)
	if e.File != "" {
		fmt.Fprintf(&sb, " [%s:%d]", e.File, e.Line)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&sb, " [session=%s]", e.SessionID)
	}
	sb.WriteByte(' ')
	sb.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
		}
	}
	sb.WriteByte('\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := io.WriteString(o.w, sb.String())
	return err
}

func (o *ConsoleOutput) Sync() error {
	if f, ok := o.w.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

func (o *ConsoleOutput) Close() error { return nil }

// FileOption configures a FileOutput.
type FileOption func(*FileOutput)

// WithJSONFormat writes one JSON object per line.
func WithJSONFormat(enabled bool) FileOption {
	return func(o *FileOutput) {
		o.json = enabled
	}
}

// WithRotation rotates the file once it grows past maxSize bytes, keeping
// at most maxFiles rotated copies.
func WithRotation(maxSize int64, maxFiles int) FileOption {
	return func(o *FileOutput) {
		o.maxSize = maxSize
		o.maxFiles = maxFiles
	}
}

// FileOutput appends entries to a file.
type FileOutput struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	json     bool
	maxSize  int64
	maxFiles int
}

// NewFileOutput opens (or creates) path for appending.
func NewFileOutput(path string, opts ...FileOption) (*FileOutput, error) {
	o := &FileOutput{path: path}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.open(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *FileOutput) open() error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", o.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file %s: %w", o.path, err)
	}
	o.file = f
	o.size = info.Size()
	return nil
}

type jsonEntry struct {
	Time      string         `json:"time"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (o *FileOutput) Write(e LogEntry) error {
	var line []byte
	if o.json {
		b, err := json.Marshal(jsonEntry{
			Time:      e.Time.Format(time.RFC3339Nano),
			Severity:  e.Severity.String(),
			Message:   e.Message,
			File:      e.File,
			Line:      e.Line,
			SessionID: e.SessionID,
			Fields:    e.Fields,
		})
		if err != nil {
			return err
		}
		line = append(b, '\n')
	} else {
		line = []byte(fmt.Sprintf("%s %-5s %s\n", e.Time.Format(time.RFC3339), e.Severity, e.Message))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.maxSize > 0 && o.size+int64(len(line)) > o.maxSize {
		if err := o.rotate(); err != nil {
			return err
		}
	}
	n, err := o.file.Write(line)
	o.size += int64(n)
	return err
}

// rotate shifts path.N -> path.N+1 and path -> path.1. Caller holds o.mu.
func (o *FileOutput) rotate() error {
	if err := o.file.Close(); err != nil {
		return err
	}
	if o.maxFiles > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", o.path, o.maxFiles))
		for i := o.maxFiles - 1; i >= 1; i-- {
			_ = os.Rename(fmt.Sprintf("%s.%d", o.path, i), fmt.Sprintf("%s.%d", o.path, i+1))
		}
		if err := os.Rename(o.path, o.path+".1"); err != nil {
			return err
		}
	} else if err := os.Truncate(o.path, 0); err != nil {
		return err
	}
	return o.open()
}

func (o *FileOutput) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.file.Sync()
}

func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.file.Close()
}

// CaptureOutput keeps entries in memory.
type CaptureOutput struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewCaptureOutput() *CaptureOutput { return &CaptureOutput{} }

func (o *CaptureOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, e)
	return nil
}

func (o *CaptureOutput) Sync() error  { return nil }
func (o *CaptureOutput) Close() error { return nil }

// Entries returns a copy of everything written so far.
func (o *CaptureOutput) Entries() []LogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]LogEntry(nil), o.entries...)
}

// Messages returns the message of every captured entry.
func (o *CaptureOutput) Messages() []string {
	entries := o.Entries()
	msgs := make([]string, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return msgs
}
