package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LevelCritical sits above error and marks security-relevant failures such
// as rejected companion connections.
const LevelCritical = slog.Level(12)

// Options describes logger construction parameters.
//
// OutputPaths receive every enabled record. ErrorOutputPaths additionally
// receive records at error and above; a path listed in both is written once.
// The names "stdout" and "stderr" select the process streams.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := ParseLevel(opts.Level)
	newHandler, err := handlerFactory(opts.Format, opts.Development || level <= slog.LevelDebug)
	if err != nil {
		return nil, err
	}

	sinks := newSinkSet()
	main, err := sinks.open(orDefault(opts.OutputPaths, "stdout"))
	if err != nil {
		return nil, err
	}
	errs, err := sinks.open(orDefault(opts.ErrorOutputPaths, "stderr"))
	if err != nil {
		return nil, err
	}

	handler := newHandler(main, level)
	if errs != nil {
		errLevel := max(level, slog.LevelError)
		handler = fanoutHandler{handler, newHandler(errs, errLevel)}
	}
	return slog.New(handler), nil
}

// ParseLevel maps a configured level name onto a slog level. Unknown values
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical", "fatal":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

type handlerFunc func(w io.Writer, level slog.Leveler) slog.Handler

func handlerFactory(format string, addSource bool) (handlerFunc, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return func(w io.Writer, level slog.Leveler) slog.Handler {
			return newPrettyHandler(w, level, addSource)
		}, nil
	case "json":
		return func(w io.Writer, level slog.Leveler) slog.Handler {
			return newJSONHandler(w, level, addSource)
		}, nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", format)
	}
}

func orDefault(paths []string, fallback string) []string {
	if len(paths) == 0 {
		return []string{fallback}
	}
	return paths
}

// sinkSet opens each destination at most once across all calls to open.
type sinkSet struct {
	seen map[string]struct{}
}

func newSinkSet() *sinkSet {
	return &sinkSet{seen: make(map[string]struct{})}
}

// open returns a writer over the paths not already opened by this set, or
// nil when every path was a duplicate.
func (s *sinkSet) open(paths []string) (io.Writer, error) {
	var writers []io.Writer
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		key := path
		if path != "stdout" && path != "stderr" {
			key = filepath.Clean(path)
		}
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}

		w, err := openSink(key)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	switch len(writers) {
	case 0:
		return nil, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

func openSink(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

// fanoutHandler hands each record to every member that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= LevelCritical:
		return "CRITICAL"
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
