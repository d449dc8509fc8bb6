package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the process-wide logger behaves.
type Config struct {
	Level   string
	Format  string
	Outputs []string
	Audit   AuditConfig
}

// AuditConfig controls the dedicated audit stream. Audit entries record
// workflow and task lifecycle events and are kept separate from debug
// noise so they survive rotation on their own schedule.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type state struct {
	base    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.RWMutex
	current = defaultState()
)

func defaultState() *state {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	base := slog.New(handler)
	return &state{base: base, audit: base}
}

// Init builds the global loggers from cfg. Calling it again replaces the
// previous configuration after closing any writers the old one owned.
func Init(cfg Config) error {
	next := &state{}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	writer, closers, err := combineOutputs(cfg.Outputs)
	if err != nil {
		return err
	}
	next.closers = closers
	if strings.EqualFold(cfg.Format, "text") {
		next.base = slog.New(slog.NewTextHandler(writer, opts))
	} else {
		next.base = slog.New(slog.NewJSONHandler(writer, opts))
	}

	next.audit = next.base
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(next.closers)
			return errors.New("audit log path cannot be empty when enabled")
		}
		rotating, err := newRotatingWriter(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			closeAll(next.closers)
			return err
		}
		next.closers = append(next.closers, rotating)
		next.audit = slog.New(slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	mu.Lock()
	old := current
	current = next
	mu.Unlock()
	closeAll(old.closers)
	return nil
}

func combineOutputs(outputs []string) (io.Writer, []io.Closer, error) {
	if len(outputs) == 0 {
		return os.Stdout, nil, nil
	}
	writers := make([]io.Writer, 0, len(outputs))
	var closers []io.Closer
	for _, out := range outputs {
		writer, closer, err := openWriter(out)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}
	if len(writers) == 1 {
		return writers[0], closers, nil
	}
	return io.MultiWriter(writers...), closers, nil
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

func closeAll(closers []io.Closer) {
	for _, closer := range closers {
		_ = closer.Close()
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the application logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current.base
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current.audit
}

// Named returns a child logger tagged with a component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes any file-backed writers and falls back to stdout logging.
func Sync() error {
	mu.Lock()
	old := current
	current = defaultState()
	mu.Unlock()

	var err error
	for _, closer := range old.closers {
		err = errors.Join(err, closer.Close())
	}
	return err
}
