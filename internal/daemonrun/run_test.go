package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tether/internal/failures"
	"tether/internal/logging"
	"tether/internal/testsupport"
)

func TestBuildWiresComponents(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithInstanceID("qa"))
	cfg.Hub.ServerURI = "https://hub.example.com"
	cfg.Hub.DeviceID = "device-9"

	store, err := failures.Open(cfg)
	if err != nil {
		t.Fatalf("failures.Open: %v", err)
	}
	parts, err := build(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { parts.daemon.Close() })

	if parts.hub.Connected() {
		t.Fatal("hub client must not connect before Start")
	}
	status := parts.daemon.Status(context.Background())
	if status.Running || status.InstanceID != "qa" || status.Version != Version {
		t.Fatalf("unexpected status: %+v", status)
	}
	report := parts.daemon.DeviceReport(context.Background())
	if report.DeviceID != "device-9" || report.TerminalSessions != 0 {
		t.Fatalf("unexpected device report: %+v", report)
	}
}

func TestRunRequiresServerURI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Hub.ServerURI = ""
	if err := Run(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("expected error without hub.server_uri")
	}
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "tetherd-1.log")
	second := filepath.Join(dir, "tetherd-2.log")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte(filepath.Base(path)), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "tetherd.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "tetherd-2.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}
