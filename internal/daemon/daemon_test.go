package daemon_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"tether/internal/auth"
	"tether/internal/daemon"
	"tether/internal/failures"
	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/process"
	"tether/internal/registry"
	"tether/internal/terminal"
	"tether/internal/testsupport"
)

type hubLink struct{ up atomic.Bool }

func (h *hubLink) Connected() bool { return h.up.Load() }

type fixture struct {
	daemon   *daemon.Daemon
	registry *registry.Registry
	failures *failures.Store
	procs    map[int]*process.Fake
}

func newFixture(t *testing.T, services ...daemon.Service) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithInstanceID("prod"))
	cfg.Hub.DeviceID = "device-1"
	cfg.Hub.ServerURI = "https://hub.example.com"

	store, err := failures.Open(cfg)
	if err != nil {
		t.Fatalf("failures.Open: %v", err)
	}
	logger := logging.NewNop()
	reg := registry.New(logger)
	f := &fixture{registry: reg, failures: store, procs: map[int]*process.Fake{}}
	link := &hubLink{}
	link.up.Store(true)

	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Registry:  reg,
		Terminals: terminal.NewStore(terminal.Options{Logger: logger}),
		Failures:  store,
		Hub:       link,
		Version:   "1.2.3",
		Services:  services,
		OpenProcess: func(pid int) (process.Handle, error) {
			proc := process.NewFake(pid)
			f.procs[pid] = proc
			return proc, nil
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	f.daemon = d
	return f
}

func TestDaemonStartStop(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})
	f := newFixture(t, daemon.Service{Name: "probe", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not start")
	}

	status := f.daemon.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.StartedAt.IsZero() {
		t.Fatal("expected start time while running")
	}

	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	select {
	case <-stopped:
	default:
		t.Fatal("expected Stop to wait for services")
	}
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	newDaemon := func() *daemon.Daemon {
		d, err := daemon.New(daemon.Options{
			Config:    cfg,
			Registry:  registry.New(nil),
			Terminals: terminal.NewStore(terminal.Options{}),
		})
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		t.Cleanup(func() { d.Close() })
		return d
	}

	first := newDaemon()
	second := newDaemon()
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock contention for second instance")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestAttachCompanionRegistersAndReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agentSide, companionSide := net.Pipe()
	t.Cleanup(func() { companionSide.Close() })
	conn := ipc.NewConn(agentSide, ipc.ConnOptions{})

	f.daemon.AttachCompanion(ctx, conn, auth.Credentials{PID: 4242, ExecutablePath: "/opt/tether/tether-desktop"})

	sessions := f.daemon.Sessions()
	if len(sessions) != 1 || sessions[0].PID != 4242 || !sessions[0].Connected {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	report := f.daemon.DeviceReport(ctx)
	if report.DeviceID != "device-1" || report.InstanceID != "prod" || report.AgentVersion != "1.2.3" {
		t.Fatalf("unexpected report identity: %+v", report)
	}
	if len(report.CompanionSessions) != 1 || report.CompanionSessions[0].PID != 4242 {
		t.Fatalf("unexpected companion sessions: %+v", report.CompanionSessions)
	}

	status := f.daemon.Status(ctx)
	if status.Companions != 1 || !status.HubConnected || status.HubURI != "https://hub.example.com" {
		t.Fatalf("unexpected status: %+v", status)
	}

	f.procs[4242].Exit()
	deadline := time.Now().Add(2 * time.Second)
	for f.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected exited companion to be removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFailuresAreListed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.failures.Record(ctx, failures.Report{
		Component: "auth",
		Operation: "authenticate",
		Code:      "path",
		Reason:    "unexpected executable",
		PID:       77,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	reports, err := f.daemon.Failures(ctx, failures.ListOptions{Component: "auth"})
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	if len(reports) != 1 || reports[0].PID != 77 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}
