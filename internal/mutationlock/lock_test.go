package mutationlock_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tether/internal/faults"
	"tether/internal/mutationlock"
	"tether/internal/testsupport"
)

func TestName(t *testing.T) {
	if got := mutationlock.Name(""); got != "tether.mutation" {
		t.Fatalf("unexpected default name %q", got)
	}
	if got := mutationlock.Name("blue"); got != "tether.mutation.blue" {
		t.Fatalf("unexpected instance name %q", got)
	}
	dir := t.TempDir()
	if got := mutationlock.FilePath(dir, "blue"); got != filepath.Join(dir, "blue", "tether.mutation.lock") {
		t.Fatalf("unexpected lock path %q", got)
	}
}

func TestAcquireReleaseIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	lock := mutationlock.NewFromConfig(cfg, nil)

	token, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	token.Release()
	token.Release()

	again, ok := lock.TryAcquire(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected lock to be free after release")
	}
	again.Release()
}

func TestInProcessGuardHonoursContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	lock := mutationlock.NewFromConfig(cfg, nil)

	held, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx)
	if !errors.Is(err, faults.ErrLockContention) {
		t.Fatalf("expected lock contention, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
}

// Two Lock values model two processes: each has its own guard and opens the
// lock file independently.
func TestCrossHolderBoundedWait(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithInstanceID("blue"))
	holder := mutationlock.NewFromConfig(cfg, nil)
	waiter := mutationlock.NewFromConfig(cfg, nil)

	token, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}

	start := time.Now()
	if second, ok := waiter.TryAcquire(context.Background(), 2*time.Second); ok {
		second.Release()
		t.Fatal("both holders observed the lock as acquired")
	}
	if elapsed := time.Since(start); elapsed < 1900*time.Millisecond {
		t.Fatalf("bounded wait returned too early after %s", elapsed)
	}

	token.Release()
	start = time.Now()
	second, ok := waiter.TryAcquire(context.Background(), 2*time.Second)
	if !ok {
		t.Fatal("expected acquire after release")
	}
	defer second.Release()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("acquire after release took %s", elapsed)
	}
}

func TestWaiterAcquiresWhenHolderReleases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	holder := mutationlock.NewFromConfig(cfg, nil)
	waiter := mutationlock.NewFromConfig(cfg, nil)

	token, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}
	time.AfterFunc(300*time.Millisecond, token.Release)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	second, err := waiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("waiter Acquire: %v", err)
	}
	second.Release()
}
