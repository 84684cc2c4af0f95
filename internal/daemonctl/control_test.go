package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"tether/internal/control"
	"tether/internal/daemon"
	"tether/internal/daemonctl"
	"tether/internal/logging"
	"tether/internal/registry"
	"tether/internal/terminal"
	"tether/internal/testsupport"
)

func startControl(t *testing.T) string {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithInstanceID("ctl"))
	logger := logging.NewNop()
	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Registry:  registry.New(logger),
		Terminals: terminal.NewStore(terminal.Options{Logger: logger}),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv, err := control.NewServer(ctx, cfg.ControlSocketPath(), d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping control socket test: %v", err)
		}
		t.Fatalf("control.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return cfg.ControlSocketPath()
}

func TestEnsureStartedReportsRunningAgent(t *testing.T) {
	socket := startControl(t)

	result, err := daemonctl.EnsureStarted(socket, "/nonexistent/tether", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if !result.AlreadyRunning || result.PID != os.Getpid() {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEnsureStartedLaunchFailure(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "missing.sock")
	if _, err := daemonctl.EnsureStarted(socket, "", daemonctl.LaunchOptions{}, 100*time.Millisecond); err == nil {
		t.Fatal("expected launch error for empty executable")
	}
}

func TestStopRefusesCurrentProcess(t *testing.T) {
	socket := startControl(t)

	_, err := daemonctl.Stop(socket, filepath.Join(t.TempDir(), "tetherd.pid"), time.Second)
	if err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "missing.sock")
	if _, err := daemonctl.Stop(socket, "", time.Second); !errors.Is(err, daemonctl.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := daemonctl.WaitForShutdown(socket, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestForceKillProcessUsesPIDFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(sleep, "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	pidPath := filepath.Join(t.TempDir(), "tetherd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}

	pid, err := daemonctl.ForceKillProcess(pidPath, 0)
	if err != nil {
		t.Fatalf("ForceKillProcess: %v", err)
	}
	if pid != cmd.Process.Pid {
		t.Fatalf("killed %d, want %d", pid, cmd.Process.Pid)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed: %v", err)
	}
}

func TestForceKillProcessWithoutPID(t *testing.T) {
	if _, err := daemonctl.ForceKillProcess(filepath.Join(t.TempDir(), "absent.pid"), 0); err == nil {
		t.Fatal("expected error without pid")
	}
}
