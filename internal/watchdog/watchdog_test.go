package watchdog_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tether/internal/clock"
	"tether/internal/process"
	"tether/internal/registry"
	"tether/internal/watchdog"
)

type endpoint struct {
	connected atomic.Bool
	closes    atomic.Int32
	panics    bool
}

func newEndpoint() *endpoint {
	ep := &endpoint{}
	ep.connected.Store(true)
	return ep
}

func (e *endpoint) Connected() bool {
	if e.panics {
		panic("connected probe failed")
	}
	return e.connected.Load()
}

func (e *endpoint) Invoke(context.Context, string, any, any) error { return nil }

func (e *endpoint) Notify(context.Context, string, any) error { return nil }

func (e *endpoint) Close() error {
	e.closes.Add(1)
	e.connected.Store(false)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSweepRemovesOnlyExitedProcess(t *testing.T) {
	reg := registry.New(nil)
	first := process.NewFake(100)
	second := process.NewFake(200)
	firstEP, secondEP := newEndpoint(), newEndpoint()
	reg.AddServer(first, firstEP)
	reg.AddServer(second, secondEP)

	first.Exit()
	wd := watchdog.New(watchdog.Options{Registry: reg})
	wd.Sweep(context.Background())

	waitFor(t, func() bool { return !reg.ContainsServer(100) })
	if !reg.ContainsServer(200) {
		t.Fatal("healthy pid 200 was removed")
	}
	if firstEP.closes.Load() != 1 {
		t.Fatalf("expected pid 100 disposed once, got %d", firstEP.closes.Load())
	}
	if secondEP.closes.Load() != 0 {
		t.Fatal("pid 200 endpoint should be untouched")
	}
}

func TestSweepRemovesDisconnectedEndpoint(t *testing.T) {
	reg := registry.New(nil)
	dropped := newEndpoint()
	healthy := newEndpoint()
	reg.AddServer(process.NewFake(10), dropped)
	reg.AddServer(process.NewFake(20), healthy)
	reg.AddServer(process.NewFake(30), newEndpoint())

	dropped.connected.Store(false)
	wd := watchdog.New(watchdog.Options{Registry: reg})
	if n := wd.Sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if reg.ContainsServer(10) || !reg.ContainsServer(20) || !reg.ContainsServer(30) {
		t.Fatalf("unexpected registry contents: %d records", reg.Len())
	}
	if dropped.closes.Load() != 1 {
		t.Fatalf("expected dropped endpoint disposed once, got %d", dropped.closes.Load())
	}
}

func TestSweepContinuesAfterPanic(t *testing.T) {
	reg := registry.New(nil)
	broken := newEndpoint()
	broken.panics = true
	dropped := newEndpoint()
	reg.AddServer(process.NewFake(1), broken)
	reg.AddServer(process.NewFake(2), dropped)
	dropped.connected.Store(false)

	wd := watchdog.New(watchdog.Options{Registry: reg})
	if n := wd.Sweep(context.Background()); n != 1 {
		t.Fatalf("expected sweep to continue past panic and evict 1, got %d", n)
	}
	if !reg.ContainsServer(1) {
		t.Fatal("record whose check panicked should be kept")
	}
}

func TestRunSweepsOnTickAndReleasesOnCancel(t *testing.T) {
	reg := registry.New(nil)
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	dropped := newEndpoint()
	healthy := newEndpoint()
	reg.AddServer(process.NewFake(100), dropped)
	reg.AddServer(process.NewFake(200), healthy)

	wd := watchdog.New(watchdog.Options{Registry: reg, Clock: fake})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		wd.Run(ctx)
		close(done)
	}()

	fake.WaitForTimers(1)
	dropped.connected.Store(false)
	fake.Advance(watchdog.DefaultInterval)
	waitFor(t, func() bool { return !reg.ContainsServer(100) })
	if !reg.ContainsServer(200) {
		t.Fatal("healthy record removed by sweep")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected registry cleared on shutdown, got %d", reg.Len())
	}
	if healthy.closes.Load() != 1 {
		t.Fatalf("expected healthy endpoint disposed on shutdown, got %d", healthy.closes.Load())
	}
}
