package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Format represents the log format
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Logger represents a logger instance
type Logger struct {
	*slog.Logger
	mu      sync.Mutex
	writers []io.Writer
	level   slog.Level
	format  Format
}

// New creates a new logger
func New(level slog.Level, format Format, writers ...io.Writer) *Logger {
	l := &Logger{
		writers: writers,
		level:   level,
		format:  format,
	}
	l.rebuildLocked()
	return l
}

func (l *Logger) rebuildLocked() {
	out := io.MultiWriter(l.writers...)
	opts := &slog.HandlerOptions{Level: l.level}
	var handler slog.Handler
	switch l.format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	l.Logger = slog.New(handler)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level slog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.rebuildLocked()
}

// AddOutput adds a new output destination
func (l *Logger) AddOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, w)
	l.rebuildLocked()
}

// SetFormat changes the log format
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
	l.rebuildLocked()
}

// Rotate closes the current log file and continues in path.
func (l *Logger) Rotate(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []io.Writer
	for _, writer := range l.writers {
		if file, ok := writer.(*os.File); ok && file != os.Stdout && file != os.Stderr {
			file.Close()
			continue
		}
		kept = append(kept, writer)
	}

	file, err := openLogFile(path)
	if err != nil {
		return err
	}
	l.writers = append(kept, file)
	l.rebuildLocked()
	return nil
}

// Close closes all file writers
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.writers {
		if file, ok := writer.(*os.File); ok && file != os.Stdout && file != os.Stderr {
			if err := file.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Level returns the current log level
func (l *Logger) Level() slog.Level {
	return l.level
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// Init replaces the default logger. Stdout is always an output; every
// non-empty path adds a log file.
func Init(level slog.Level, format Format, paths ...string) error {
	return InitTo(os.Stdout, level, format, paths...)
}

// InitTo is Init with console output going to console instead of stdout,
// for when stdout carries page frames.
func InitTo(console io.Writer, level slog.Level, format Format, paths ...string) error {
	writers := []io.Writer{console}
	for _, path := range paths {
		if path == "" {
			continue
		}
		file, err := openLogFile(path)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	defaultLogger = New(level, format, writers...)
	return nil
}

// Default returns the logger used by the package helpers.
func Default() *Logger {
	return defaultLogger
}

// GetLevelFromString returns the log level from a string
func GetLevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaultLogger writes text to stderr until Init is called.
var defaultLogger = New(slog.LevelInfo, FormatText, os.Stderr)

// With returns a child of the default logger carrying args on every record.
func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.ErrorContext(ctx, msg, args...)
}
