package failures

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tether/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by an incompatible version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Report is one persisted failure.
type Report struct {
	ID             int64     `json:"id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Component      string    `json:"component"`
	Operation      string    `json:"operation"`
	Code           string    `json:"code"`
	Reason         string    `json:"reason"`
	PID            int       `json:"pid,omitempty"`
	ExecutablePath string    `json:"executable_path,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
}

// Recorder persists failure reports.
type Recorder interface {
	Record(ctx context.Context, report Report) (int64, error)
}

// ListOptions filters List results.
type ListOptions struct {
	Component string
	Since     time.Time
	Limit     int
}

// Store manages failure report persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the failure database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.FailuresDBPath())
}

// OpenPath opens the failure database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has v%d, expected v%d (delete %s to reset)", ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Record inserts report and returns its ID. A zero OccurredAt is stamped
// with the current time.
func (s *Store) Record(ctx context.Context, report Report) (int64, error) {
	if report.OccurredAt.IsZero() {
		report.OccurredAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO failure_reports (
            occurred_at, component, operation, code, reason, pid, executable_path, correlation_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.OccurredAt.UTC().Format(time.RFC3339Nano),
		strings.TrimSpace(report.Component),
		strings.TrimSpace(report.Operation),
		report.Code,
		report.Reason,
		nullableInt(report.PID),
		nullableString(report.ExecutablePath),
		nullableString(report.CorrelationID),
	)
	if err != nil {
		return 0, fmt.Errorf("insert failure report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns reports newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Report, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, occurred_at, component, operation, code, reason, pid, executable_path, correlation_id
        FROM failure_reports WHERE 1=1`)
	var args []any
	if component := strings.TrimSpace(opts.Component); component != "" {
		query.WriteString(" AND component = ?")
		args = append(args, component)
	}
	if !opts.Since.IsZero() {
		query.WriteString(" AND occurred_at >= ?")
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	query.WriteString(" ORDER BY occurred_at DESC, id DESC")
	if opts.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query failure reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var (
			r          Report
			occurredAt string
			pid        sql.NullInt64
			exe, corr  sql.NullString
		)
		if err := rows.Scan(&r.ID, &occurredAt, &r.Component, &r.Operation, &r.Code, &r.Reason, &pid, &exe, &corr); err != nil {
			return nil, fmt.Errorf("scan failure report: %w", err)
		}
		if r.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", occurredAt, err)
		}
		r.PID = int(pid.Int64)
		r.ExecutablePath = exe.String
		r.CorrelationID = corr.String
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Prune deletes reports older than retention and returns how many were
// removed. A non-positive retention keeps everything.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM failure_reports WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune failure reports: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}
