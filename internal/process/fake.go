package process

import "sync/atomic"

// Fake is a Handle controlled by tests.
type Fake struct {
	*watched
	closes atomic.Int32
}

// NewFake returns a running fake process with the given pid.
func NewFake(pid int) *Fake {
	return &Fake{watched: newWatched(pid)}
}

// Exit marks the fake process as exited.
func (f *Fake) Exit() { f.markExited() }

func (f *Fake) Close() error {
	f.closes.Add(1)
	return f.watched.Close()
}

// Closes reports how many times Close was called.
func (f *Fake) Closes() int { return int(f.closes.Load()) }
