//go:build unix && !linux

package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func open(pid int) (Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	w := newWatched(pid)
	if !alive(pid) {
		w.markExited()
		return w, nil
	}
	go w.run(w.sleepProbe(func() bool { return alive(pid) }), nil)
	return w, nil
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
