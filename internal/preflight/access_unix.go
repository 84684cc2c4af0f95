//go:build !windows

package preflight

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

func checkAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK)
}

func isExecutable(info fs.FileInfo) bool {
	return info.Mode().Perm()&0o111 != 0
}
