//go:build darwin

package peercred

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func fromFD(fd int) (Credentials, error) {
	pid, err := unix.GetsockoptInt(fd, unix.SOL_LOCAL, unix.LOCAL_PEERPID)
	if err != nil {
		return Credentials{}, fmt.Errorf("LOCAL_PEERPID: %w", err)
	}
	creds := Credentials{PID: pid, UID: -1}
	if xucred, err := unix.GetsockoptXucred(fd, unix.SOL_LOCAL, unix.LOCAL_PEERCRED); err == nil {
		creds.UID = int(xucred.Uid)
	}
	return creds, nil
}

// executablePath reads kern.procargs2, which starts with a 4-byte argc
// followed by the NUL-terminated executable path.
func executablePath(pid int) (string, error) {
	buf, err := unix.SysctlRaw("kern.procargs2", pid)
	if err != nil {
		return "", fmt.Errorf("kern.procargs2: %w", err)
	}
	if len(buf) < 5 {
		return "", errors.New("kern.procargs2: short buffer")
	}
	rest := buf[4:]
	end := bytes.IndexByte(rest, 0)
	if end <= 0 {
		return "", errors.New("kern.procargs2: missing executable path")
	}
	return string(rest[:end]), nil
}
