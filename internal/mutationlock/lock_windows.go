//go:build windows

package mutationlock

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/windows"
)

// mutexPrimitive holds a Global\ named mutex. Windows mutex ownership is per
// thread, so a single goroutine pinned to its OS thread owns the handle from
// the first attempt until Unlock.
type mutexPrimitive struct {
	requests chan chan tryResult
	release  chan chan error
}

type tryResult struct {
	locked bool
	err    error
}

func newOSPrimitive(name string, _ string) (primitive, error) {
	p := &mutexPrimitive{
		requests: make(chan chan tryResult),
		release:  make(chan chan error),
	}
	ready := make(chan error, 1)
	go p.own(`Global\`+name, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return p, nil
}

func (p *mutexPrimitive) own(name string, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		ready <- fmt.Errorf("encode mutex name: %w", err)
		return
	}
	handle, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil && !errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		ready <- fmt.Errorf("create mutex %s: %w", name, err)
		return
	}
	defer windows.CloseHandle(handle)
	ready <- nil

	held := false
	for {
		select {
		case reply := <-p.requests:
			event, err := windows.WaitForSingleObject(handle, 0)
			switch {
			case err != nil:
				reply <- tryResult{err: fmt.Errorf("wait for mutex: %w", err)}
			case event == windows.WAIT_OBJECT_0, event == windows.WAIT_ABANDONED:
				held = true
				reply <- tryResult{locked: true}
			default:
				reply <- tryResult{}
			}
		case reply := <-p.release:
			var err error
			if held {
				err = windows.ReleaseMutex(handle)
			}
			reply <- err
			return
		}
	}
}

func (p *mutexPrimitive) TryLock() (bool, error) {
	reply := make(chan tryResult, 1)
	p.requests <- reply
	result := <-reply
	return result.locked, result.err
}

func (p *mutexPrimitive) Unlock() error {
	reply := make(chan error, 1)
	p.release <- reply
	return <-reply
}
