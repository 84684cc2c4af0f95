package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrTargetNotRunning = errors.New("target not running")
	ErrTimeout          = errors.New("timeout")
	ErrCanceled         = errors.New("canceled")
	ErrLockContention   = errors.New("lock contention")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrUnexpected       = errors.New("unexpected error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrUnexpected
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FromContext converts a context error into the matching marker so callers can
// classify deadline and cancellation uniformly. Other errors pass through.
func FromContext(component, operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrCanceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrTimeout, component, operation, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return Wrap(ErrCanceled, component, operation, "canceled", err)
	default:
		return err
	}
}

// Code returns a stable machine-readable classification for err.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrTargetNotRunning):
		return "target_not_running"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrLockContention):
		return "lock_contention"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "unexpected"
	}
}

// PublicReason returns the short reason that may be sent to the hub. Internal
// detail such as paths and wrapped causes stays in the local log.
func PublicReason(err error) string {
	switch Code(err) {
	case "ok":
		return ""
	case "authentication":
		return "Authentication failed."
	case "target_not_running":
		return "Target session is not running."
	case "timeout":
		return "The operation timed out."
	case "canceled":
		return "The operation was canceled."
	case "lock_contention":
		return "Another maintenance operation is in progress."
	case "not_found":
		return "The requested item was not found."
	case "validation":
		return "The request was invalid."
	default:
		return "An unexpected error occurred."
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
