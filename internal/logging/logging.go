// Package logging provides structured logging setup using log/slog,
// including the size-bounded session debug log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// FileName is the debug log file name inside the log directory.
	FileName = "debug.log"
	// DefaultMaxSize is the size at which the debug log is truncated.
	DefaultMaxSize int64 = 5 * 1024 * 1024
	// DefaultSeparator is the session boundary marker written between
	// sessions sharing one log file.
	DefaultSeparator = "--- EOF ---"
	// FormatJSON selects the JSON line format for the debug log.
	FormatJSON = "json"
)

// Options configures the per-session log sinks.
type Options struct {
	// Debug selects the debug level and enables the console sink.
	Debug bool
	// Format selects the debug log line format ("json" or text).
	Format string
	// Dir is the directory holding the debug log file.
	Dir string
	// MaxSize truncates the file when it grows beyond this many bytes.
	// Zero means DefaultMaxSize.
	MaxSize int64
	// Separator is the session boundary literal. Empty means
	// DefaultSeparator.
	Separator string
}

// Sink holds the open log destinations for one session.
type Sink struct {
	file *os.File
	path string
}

// Path returns the debug log file path.
func (s *Sink) Path() string {
	return s.path
}

// Close releases the file handle. The process default logger keeps
// pointing at the closed handler until the next Configure; callers are
// expected to Configure again before logging for a new session.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Configure installs the session log sinks as the process default
// slog logger and emits the session boundary marker.
//
// A file sink is always installed; a console sink only when debugging
// is enabled. Each call replaces the previous default handler, so
// repeated start/stop cycles never accumulate sinks — the caller must
// Close the previous Sink to release its file handle. The file is
// truncated once it exceeds MaxSize, trading old session logs for a
// bounded footprint.
func Configure(opts Options) (*Sink, error) {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	separator := opts.Separator
	if separator == "" {
		separator = DefaultSeparator
	}

	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(opts.Dir, FileName)

	if info, err := os.Stat(path); err == nil && info.Size() > maxSize {
		if err := os.Truncate(path, 0); err != nil {
			return nil, fmt.Errorf("failed to truncate log file: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Session boundary marker, before any structured line.
	if _, err := fmt.Fprintf(file, "\n%s\n\n", separator); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write session separator: %w", err)
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{newHandler(file, opts.Format, handlerOpts)}
	if opts.Debug {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, handlerOpts))
	}

	slog.SetDefault(slog.New(newMultiHandler(handlers...)))

	return &Sink{file: file, path: path}, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
