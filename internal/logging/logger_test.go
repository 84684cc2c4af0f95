package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tether/internal/logging"
)

func TestErrorOutputsReceiveOnlyErrors(t *testing.T) {
	dir := t.TempDir()
	all := filepath.Join(dir, "all.log")
	errs := filepath.Join(dir, "errors.log")
	logger, err := logging.New(logging.Options{
		Level:            "info",
		OutputPaths:      []string{all},
		ErrorOutputPaths: []string{errs, all},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("routine")
	logger.Error("broken")

	allContent, err := os.ReadFile(all)
	if err != nil {
		t.Fatalf("read all log: %v", err)
	}
	if strings.Count(string(allContent), "broken") != 1 || !strings.Contains(string(allContent), "routine") {
		t.Fatalf("expected each line once in shared output, got %q", allContent)
	}
	errContent, err := os.ReadFile(errs)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if strings.Contains(string(errContent), "routine") || !strings.Contains(string(errContent), "broken") {
		t.Fatalf("error output should only hold errors, got %q", errContent)
	}
}

func logFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "out.log")
}

func TestConsoleLoggerFormatsComponentAndCritical(t *testing.T) {
	logPath := logFile(t)
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	auth := logging.NewComponentLogger(logger, "auth")
	logging.CriticalWithContext(context.Background(), auth, "peer rejected", "auth_rejected",
		logging.Int(logging.FieldPID, 42),
		logging.Error(errors.New("bad path")),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"CRITICAL auth: peer rejected", "pid=42", `error="bad path"`, "event_type=auth_rejected", "error_hint="} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", line)
	}
}

func TestCriticalFilteredByLevel(t *testing.T) {
	logPath := logFile(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "critical", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Error("ordinary error")
	logging.CriticalWithContext(context.Background(), logger, "security event", "auth_rejected")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "ordinary error") {
		t.Fatalf("error line should be filtered at critical level: %q", content)
	}
	if !strings.Contains(string(content), "security event") {
		t.Fatalf("expected critical line, got %q", content)
	}
}

func TestJSONLoggerLevelAndCorrelation(t *testing.T) {
	logPath := logFile(t)
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, id := logging.EnsureCorrelationID(context.Background())
	logging.WarnWithContext(logging.WithContext(ctx, logger), "slow companion", "companion_slow",
		logging.Duration("elapsed", 2*time.Second),
	)
	logging.CriticalWithContext(ctx, logger, "denied", "auth_rejected")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), content)
	}

	var warn map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &warn); err != nil {
		t.Fatalf("decode warn line: %v", err)
	}
	if warn["level"] != "warn" {
		t.Fatalf("unexpected level %v", warn["level"])
	}
	if warn[logging.FieldCorrelationID] != id {
		t.Fatalf("expected correlation id %q, got %v", id, warn[logging.FieldCorrelationID])
	}
	if warn[logging.FieldImpact] == nil {
		t.Fatal("expected impact default to be injected")
	}

	var critical map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &critical); err != nil {
		t.Fatalf("decode critical line: %v", err)
	}
	if critical["level"] != "critical" {
		t.Fatalf("expected critical label, got %v", critical["level"])
	}
}

func TestConsoleLoggerGroupsAndCorrelation(t *testing.T) {
	logPath := logFile(t)
	logger, err := logging.New(logging.Options{Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithCorrelationID(context.Background(), "req-7")
	logging.WithContext(ctx, logger).WithGroup("upload").Info("chunk stored", logging.Int64("bytes", 512))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "chunk stored correlation_id=req-7 upload.bytes=512") {
		t.Fatalf("unexpected console line %q", content)
	}
}

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := logging.WithCorrelationID(context.Background(), "abc")
	_, id := logging.EnsureCorrelationID(ctx)
	if id != "abc" {
		t.Fatalf("expected existing id, got %q", id)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":    "DEBUG",
		"WARN":     "WARN",
		"critical": "ERROR+4",
		"":         "INFO",
		"bogus":    "INFO",
	}
	for input, want := range cases {
		if got := logging.ParseLevel(input).String(); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}
