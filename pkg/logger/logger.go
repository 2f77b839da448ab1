package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LevelSuccess sits between INFO and WARN and marks steps that completed.
const LevelSuccess = slog.Level(2)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Debug forces the debug level regardless of Level.
	Debug bool
}

var (
	defaultLogger *slog.Logger
	mu            sync.Mutex
	closers       []io.Closer
)

// Init configures the global logger instance. Calling it again replaces the
// previous logger and closes the files it held.
func Init(cfg Config) error {
	level := parseLevel(cfg.Level)
	if cfg.Debug {
		level = slog.LevelDebug
	}

	writer, fileClosers, err := buildWriter(cfg.OutputPaths)
	if err != nil {
		return err
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel})
	case "text":
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel})
	default:
		handler = NewConsoleHandler(writer, level)
	}

	mu.Lock()
	old := closers
	closers = fileClosers
	defaultLogger = slog.New(handler)
	mu.Unlock()

	for _, c := range old {
		_ = c.Close()
	}
	return nil
}

func buildWriter(outputs []string) (io.Writer, []io.Closer, error) {
	if len(outputs) == 0 {
		return os.Stdout, nil, nil
	}
	writers := make([]io.Writer, 0, len(outputs))
	var opened []io.Closer
	for _, out := range outputs {
		writer, closer, err := openWriter(out)
		if err != nil {
			for _, c := range opened {
				_ = c.Close()
			}
			return nil, nil, err
		}
		if closer != nil {
			opened = append(opened, closer)
		}
		writers = append(writers, writer)
	}
	if len(writers) == 1 {
		return writers[0], opened, nil
	}
	return io.MultiWriter(writers...), opened, nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return file, file, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "success":
		return LevelSuccess
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// replaceLevel prints LevelSuccess as SUCCESS for the json and text handlers.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelSuccess {
		a.Value = slog.StringValue("SUCCESS")
	}
	return a
}

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Sync closes the files opened for log output.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}

// Named returns a child logger with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Success logs msg at LevelSuccess on l.
func Success(l *slog.Logger, msg string, args ...any) {
	if l == nil {
		l = L()
	}
	l.Log(context.Background(), LevelSuccess, msg, args...)
}
