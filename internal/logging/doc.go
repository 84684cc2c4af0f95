// Package logging assembles structured slog loggers and formatting helpers used
// across tether.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes helpers that enforce event_type, error_hint, and impact
// fields on warning and error lines. Records at error and above are also
// copied to the error outputs. Authentication failures use the extra
// LevelCritical severity. Correlation IDs attached to a context flow into log
// lines through WithContext. Old per-run daemon logs are pruned by
// CleanupOldLogs.
package logging
