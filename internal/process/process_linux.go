//go:build linux

package process

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func open(pid int) (Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	w := newWatched(pid)
	fd, err := unix.PidfdOpen(pid, 0)
	switch {
	case errors.Is(err, unix.ESRCH):
		w.markExited()
		return w, nil
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EPERM):
		go w.run(w.sleepProbe(func() bool { return alive(pid) }), nil)
		return w, nil
	case err != nil:
		return nil, fmt.Errorf("pidfd_open %d: %w", pid, err)
	}

	probe := func(timeout time.Duration) (bool, error) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
	go w.run(probe, func() { _ = unix.Close(fd) })
	return w, nil
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
