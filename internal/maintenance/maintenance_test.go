package maintenance_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tether/internal/clock"
	"tether/internal/faults"
	"tether/internal/maintenance"
	"tether/internal/mutationlock"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	return []byte("done"), r.err
}

func newLock(t *testing.T, dir string) *mutationlock.Lock {
	t.Helper()
	return mutationlock.New(mutationlock.Options{
		InstanceID:   "test",
		LockDir:      dir,
		PollInterval: 10 * time.Millisecond,
	})
}

func TestUninstallRunsUnderLock(t *testing.T) {
	rec := &recorder{}
	runner := maintenance.New(maintenance.Options{
		UninstallCommand: "/opt/tether/tether uninstall",
		InstanceID:       "prod",
		Lock:             newLock(t, t.TempDir()),
		LockTimeout:      time.Second,
		Run:              rec.run,
	})
	if err := runner.Uninstall(context.Background()); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "/opt/tether/tether uninstall -i prod" {
		t.Fatalf("unexpected calls %v", rec.calls)
	}
}

func TestUninstallWithoutCommand(t *testing.T) {
	rec := &recorder{}
	runner := maintenance.New(maintenance.Options{Run: rec.run})
	err := runner.Uninstall(context.Background())
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatal("nothing should run")
	}
}

func TestUninstallLockBusy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	holder := newLock(t, dir)
	token, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer token.Release()

	rec := &recorder{}
	runner := maintenance.New(maintenance.Options{
		UninstallCommand: "uninstall",
		Lock:             newLock(t, dir),
		LockTimeout:      100 * time.Millisecond,
		Run:              rec.run,
	})
	err = runner.Uninstall(context.Background())
	if !errors.Is(err, faults.ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatal("command must not run without the lock")
	}
}

func TestUninstallCommandFailure(t *testing.T) {
	rec := &recorder{err: errors.New("exit status 1")}
	runner := maintenance.New(maintenance.Options{
		UninstallCommand: "uninstall",
		Lock:             newLock(t, t.TempDir()),
		LockTimeout:      time.Second,
		Run:              rec.run,
	})
	if err := runner.Uninstall(context.Background()); !errors.Is(err, faults.ErrUnexpected) {
		t.Fatalf("expected ErrUnexpected, got %v", err)
	}
}

func TestUpdateRunsUnderLock(t *testing.T) {
	rec := &recorder{}
	runner := maintenance.New(maintenance.Options{
		UpdateCommand: "/opt/tether/install --update",
		InstanceID:    "prod",
		Lock:          newLock(t, t.TempDir()),
		Run:           rec.run,
	})
	if err := runner.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "/opt/tether/install --update -i prod" {
		t.Fatalf("unexpected calls %v", rec.calls)
	}
}

func TestUpdateLockBusy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	holder := newLock(t, dir)
	token, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	rec := &recorder{}
	runner := maintenance.New(maintenance.Options{
		UpdateCommand:     "install",
		Lock:              newLock(t, dir),
		UpdateLockTimeout: 100 * time.Millisecond,
		Run:               rec.run,
	})
	if err := runner.Update(context.Background()); !errors.Is(err, faults.ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatal("update must not run without the lock")
	}

	token.Release()
	if err := runner.Update(context.Background()); err != nil {
		t.Fatalf("Update after release: %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected one update once the lock is free, got %v", rec.calls)
	}
}

func TestAutoUpdateRunsOnInterval(t *testing.T) {
	fakeClock := clock.NewFake(time.Unix(1_700_000_000, 0))
	runs := make(chan string, 4)
	runner := maintenance.New(maintenance.Options{
		UpdateCommand:  "install",
		UpdateInterval: time.Hour,
		Lock:           newLock(t, t.TempDir()),
		Clock:          fakeClock,
		Run: func(_ context.Context, name string, _ ...string) ([]byte, error) {
			runs <- name
			return nil, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.RunAutoUpdate(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitRun := func() {
		t.Helper()
		select {
		case <-runs:
		case <-time.After(3 * time.Second):
			t.Fatal("update did not run")
		}
	}
	waitRun()
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Hour)
	waitRun()
}

func TestAutoUpdateWithoutCommandReturns(t *testing.T) {
	runner := maintenance.New(maintenance.Options{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.RunAutoUpdate(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("auto-update without a command should return")
	}
}
