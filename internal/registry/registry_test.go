package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tether/internal/ipc"
	"tether/internal/process"
	"tether/internal/registry"
)

type fakeEndpoint struct {
	connected atomic.Bool
	closes    atomic.Int32

	mu        sync.Mutex
	notified  []string
	notifyErr error
}

func newEndpoint() *fakeEndpoint {
	ep := &fakeEndpoint{}
	ep.connected.Store(true)
	return ep
}

func (f *fakeEndpoint) Connected() bool { return f.connected.Load() }

func (f *fakeEndpoint) Invoke(context.Context, string, any, any) error { return nil }

func (f *fakeEndpoint) Notify(_ context.Context, method string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, method)
	return f.notifyErr
}

func (f *fakeEndpoint) Close() error {
	f.closes.Add(1)
	f.connected.Store(false)
	return nil
}

func (f *fakeEndpoint) notifications() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notified...)
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

func TestAddServerExitedProcessIsDisposed(t *testing.T) {
	reg := registry.New(nil)
	proc := process.NewFake(100)
	proc.Exit()
	ep := newEndpoint()

	if reg.AddServer(proc, ep) {
		t.Fatal("expected exited process to be rejected")
	}
	if reg.ContainsServer(100) {
		t.Fatal("exited process must not be stored")
	}
	if ep.closes.Load() != 1 || proc.Closes() != 1 {
		t.Fatalf("expected endpoint and handle disposed once, got %d/%d", ep.closes.Load(), proc.Closes())
	}
}

func TestAddServerReplacesAndDisposesPrevious(t *testing.T) {
	reg := registry.New(nil)
	first := newEndpoint()
	second := newEndpoint()
	firstProc := process.NewFake(200)
	secondProc := process.NewFake(200)

	reg.AddServer(firstProc, first)
	reg.AddServer(secondProc, second)

	if first.closes.Load() != 1 {
		t.Fatalf("expected replaced endpoint disposed once, got %d", first.closes.Load())
	}
	record, ok := reg.TryGetServer(200)
	if !ok || record.Endpoint != second {
		t.Fatal("expected second endpoint to be live")
	}

	// The old handle reporting exit must not evict the newer record.
	firstProc.Exit()
	time.Sleep(20 * time.Millisecond)
	if !reg.ContainsServer(200) {
		t.Fatal("stale exit watcher removed newer record")
	}
}

func TestProcessExitRemovesRecord(t *testing.T) {
	reg := registry.New(nil)
	proc := process.NewFake(300)
	ep := newEndpoint()
	reg.AddServer(proc, ep)

	proc.Exit()
	waitFor(t, func() bool { return !reg.ContainsServer(300) })
	waitFor(t, func() bool { return ep.closes.Load() == 1 })
	if proc.Closes() != 1 {
		t.Fatalf("expected handle closed once, got %d", proc.Closes())
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	reg := registry.New(nil)
	proc := process.NewFake(400)
	ep := newEndpoint()
	reg.AddServer(proc, ep)

	record, ok := reg.TryRemove(400)
	if !ok {
		t.Fatal("expected record")
	}
	if ep.closes.Load() != 0 {
		t.Fatal("TryRemove must not dispose")
	}
	record.Dispose()
	record.Dispose()
	if reg.Remove(record) {
		t.Fatal("Remove should report false for an already removed record")
	}
	if ep.closes.Load() != 1 {
		t.Fatalf("expected a single dispose, got %d", ep.closes.Load())
	}
}

func TestKillAllServersNotifiesAndClears(t *testing.T) {
	reg := registry.New(nil)
	healthy := newEndpoint()
	failing := newEndpoint()
	failing.notifyErr = errors.New("broken pipe")
	gone := newEndpoint()
	gone.connected.Store(false)

	reg.AddServer(process.NewFake(1), healthy)
	reg.AddServer(process.NewFake(2), failing)
	reg.AddServer(process.NewFake(3), gone)

	reg.KillAllServers(context.Background(), "agent stopping")

	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
	if got := healthy.notifications(); len(got) != 1 || got[0] != ipc.MsgShutdown {
		t.Fatalf("expected one shutdown notice, got %v", got)
	}
	if len(gone.notifications()) != 0 {
		t.Fatal("disconnected endpoint should not be notified")
	}
	for i, ep := range []*fakeEndpoint{healthy, failing, gone} {
		if ep.closes.Load() != 1 {
			t.Fatalf("endpoint %d: expected one dispose, got %d", i, ep.closes.Load())
		}
	}
}

func TestServersSnapshotSorted(t *testing.T) {
	reg := registry.New(nil)
	for _, pid := range []int{30, 10, 20} {
		reg.AddServer(process.NewFake(pid), newEndpoint())
	}
	servers := reg.Servers()
	if len(servers) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(servers))
	}
	for i, want := range []int{10, 20, 30} {
		if servers[i].PID != want {
			t.Fatalf("position %d: expected pid %d, got %d", i, want, servers[i].PID)
		}
	}
}

func TestConcurrentAddAndRemove(t *testing.T) {
	reg := registry.New(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			reg.AddServer(process.NewFake(pid%10), newEndpoint())
			reg.TryGetServer(pid % 10)
			if record, ok := reg.TryRemove(pid % 10); ok {
				record.Dispose()
			}
		}(i)
	}
	wg.Wait()
	reg.KillAllServers(context.Background(), "test")
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}
