// Package process watches companion processes for exit.
//
// A Handle is a lightweight observer: it never signals or reaps the process
// it watches. Platforms with a process descriptor (pidfd on Linux, process
// handles on Windows) use it; others fall back to signal-0 probing.
package process

import (
	"sync"
	"time"
)

// Handle observes a single process.
type Handle interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	Exited() bool
	// Close stops watching and releases OS resources. It does not affect
	// the process and is safe to call more than once.
	Close() error
}

const pollInterval = 250 * time.Millisecond

// probeFunc waits up to timeout and reports whether the process has exited.
type probeFunc func(timeout time.Duration) (bool, error)

type watched struct {
	pid       int
	done      chan struct{}
	stop      chan struct{}
	exitOnce  sync.Once
	closeOnce sync.Once
}

func newWatched(pid int) *watched {
	return &watched{pid: pid, done: make(chan struct{}), stop: make(chan struct{})}
}

func (w *watched) PID() int { return w.pid }

func (w *watched) Done() <-chan struct{} { return w.done }

func (w *watched) Exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *watched) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	return nil
}

func (w *watched) markExited() {
	w.exitOnce.Do(func() { close(w.done) })
}

// run drives probe until the process exits or the handle is closed. release
// runs on the watching goroutine so descriptors are never closed while a
// probe is blocked on them.
func (w *watched) run(probe probeFunc, release func()) {
	if release != nil {
		defer release()
	}
	for {
		select {
		case <-w.stop:
			return
		default:
		}
		exited, err := probe(pollInterval)
		if err != nil || exited {
			w.markExited()
			return
		}
	}
}

// sleepProbe wraps an instantaneous check so it waits out the interval
// while still noticing Close.
func (w *watched) sleepProbe(check func() bool) probeFunc {
	return func(timeout time.Duration) (bool, error) {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-w.stop:
			return false, nil
		case <-timer.C:
		}
		return !check(), nil
	}
}

// Open starts watching pid. A process that is already gone yields a handle
// whose Exited reports true.
func Open(pid int) (Handle, error) {
	return open(pid)
}
