package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Error records err under the "error" key. A nil error is logged as "<nil>".
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags every line from the returned logger with
// component. A nil logger yields a no-op base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

const (
	defaultErrorHint = "run `tether logs` for surrounding context"
	defaultImpact    = "operation completed with warnings"
)

// annotate fills event_type, error_hint, and (for warnings) impact when the
// caller did not supply them.
func annotate(attrs []Attr, eventType string, warning bool) []any {
	var hasEvent, hasHint, hasImpact bool
	args := make([]any, 0, len(attrs)+3)
	for _, attr := range attrs {
		switch attr.Key {
		case FieldEventType:
			hasEvent = true
		case FieldErrorHint:
			hasHint = true
		case FieldImpact:
			hasImpact = true
		}
		args = append(args, attr)
	}
	if !hasEvent {
		args = append(args, String(FieldEventType, eventType))
	}
	if !hasHint {
		args = append(args, String(FieldErrorHint, defaultErrorHint))
	}
	if warning && !hasImpact {
		args = append(args, String(FieldImpact, defaultImpact))
	}
	return args
}

// WarnWithContext logs a warning carrying event_type, error_hint, and impact.
// Missing fields get defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Warn(msg, annotate(attrs, eventType, true)...)
}

// ErrorWithContext logs an error carrying event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Error(msg, annotate(attrs, eventType, false)...)
}

// CriticalWithContext logs at LevelCritical. The correlation ID on ctx is
// attached unless attrs already name one.
func CriticalWithContext(ctx context.Context, logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if id, ok := CorrelationID(ctx); ok && !hasKey(attrs, FieldCorrelationID) {
		attrs = append(attrs, String(FieldCorrelationID, id))
	}
	logger.Log(ctx, LevelCritical, msg, annotate(attrs, eventType, false)...)
}

func hasKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}
