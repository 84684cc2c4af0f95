//go:build windows

package process

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
)

func open(pid int) (Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	w := newWatched(pid)
	handle, err := windows.OpenProcess(windows.SYNCHRONIZE|windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
		w.markExited()
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}

	probe := func(timeout time.Duration) (bool, error) {
		event, err := windows.WaitForSingleObject(handle, uint32(timeout/time.Millisecond))
		if err != nil {
			return false, err
		}
		return event == windows.WAIT_OBJECT_0, nil
	}
	go w.run(probe, func() { _ = windows.CloseHandle(handle) })
	return w, nil
}
