// Package logging provides structured slog logging for layoutconv.
//
// Loggers carry a component attribute, optional request ids taken from a
// context, and redact attributes that may hold user text or credentials.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

const redacted = "[REDACTED]"

// Config holds the logging configuration.
type Config struct {
	Level  Level
	Format Format

	// Output is "stdout", "stderr", "file" or "both" (stderr and file).
	Output string

	// FilePath is the log file used when Output includes a file.
	FilePath string

	// MaxSize is the log file size in megabytes that triggers rotation.
	MaxSize int64

	// MaxBackups is how many rotated files are kept.
	MaxBackups int

	AddSource bool

	// RedactText hides the text being converted or detected. Layout
	// mistakes are often passwords typed in the wrong layout.
	RedactText bool

	Component string

	// Writer overrides Output when set.
	Writer io.Writer
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   DefaultLogPath(),
		MaxSize:    50,
		MaxBackups: 3,
		RedactText: true,
		Component:  "layoutconv",
	}
}

// DefaultLogPath returns the platform log location.
func DefaultLogPath() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, _ := os.UserHomeDir()
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "layoutconv", "layoutconv.log")
}

// Logger wraps slog.Logger with a component name and an optional rotating
// file.
type Logger struct {
	*slog.Logger
	config  *Config
	rotator *FileRotator
	mu      *sync.Mutex
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process-wide logger, creating a stderr logger on first
// use.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		cfg := DefaultConfig()
		cfg.Output = "stderr"
		defaultLogger, _ = New(cfg)
	}
	return defaultLogger
}

// SetDefault installs l as the process-wide logger and as slog's default.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	slog.SetDefault(l.Logger)
}

// New creates a Logger from cfg.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &Logger{config: cfg, mu: &sync.Mutex{}}

	w, err := l.writer()
	if err != nil {
		return nil, fmt.Errorf("setup writers: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key, cfg.RedactText) {
				a.Value = slog.StringValue(redacted)
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

func (l *Logger) writer() (io.Writer, error) {
	if l.config.Writer != nil {
		return l.config.Writer, nil
	}
	switch strings.ToLower(l.config.Output) {
	case "stdout":
		return os.Stdout, nil
	case "file", "both":
		r, err := NewFileRotator(l.config.FilePath, l.config.MaxSize*1024*1024, l.config.MaxBackups)
		if err != nil {
			return nil, err
		}
		l.rotator = r
		if strings.EqualFold(l.config.Output, "both") {
			return io.MultiWriter(os.Stderr, r), nil
		}
		return r, nil
	default:
		return os.Stderr, nil
	}
}

var sensitiveKeys = []string{
	"password", "secret", "token", "credential", "api_key", "apikey", "auth", "cookie",
}

var textKeys = map[string]bool{
	"text": true, "input": true, "output": true, "converted": true,
}

func shouldRedact(key string, redactText bool) bool {
	k := strings.ToLower(key)
	if redactText && textKeys[k] {
		return true
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func (l *Logger) with(attr slog.Attr) *Logger {
	return &Logger{
		Logger:  l.Logger.With(attr),
		config:  l.config,
		rotator: l.rotator,
		mu:      l.mu,
	}
}

// WithComponent returns a logger tagged with a different component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.with(slog.String("component", name))
}

// WithRequestID returns a logger tagged with a request id.
func (l *Logger) WithRequestID(id string) *Logger {
	return l.with(slog.String("request_id", id))
}

// WithContext returns a logger carrying the context's request id, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return l.WithRequestID(id)
	}
	return l
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// NewRequestID returns a fresh request id.
func NewRequestID() string {
	return uuid.NewString()
}

type contextKey int

const requestIDKey contextKey = iota

// ContextWithRequestID returns a new context carrying the request id.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// LevelString returns the string representation of a log level.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %s", s)
}
