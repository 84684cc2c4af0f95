//go:build linux

package peercred

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func fromFD(fd int) (Credentials, error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return Credentials{}, fmt.Errorf("SO_PEERCRED: %w", err)
	}
	return Credentials{PID: int(ucred.Pid), UID: int(ucred.Uid)}, nil
}

func executablePath(pid int) (string, error) {
	path, err := os.Readlink("/proc/" + strconv.Itoa(pid) + "/exe")
	if err != nil {
		return "", err
	}
	// The kernel appends this marker when the binary was replaced on disk.
	return strings.TrimSuffix(path, " (deleted)"), nil
}
