//go:build windows

package filesystem

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/windows"
)

type root struct {
	name     string
	path     string
	readOnly bool
}

// rootPaths returns every ready logical drive.
func rootPaths() []root {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil
	}
	var roots []root
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		path := string(rune('A'+i)) + `:\`
		ptr, err := windows.UTF16PtrFromString(path)
		if err != nil {
			continue
		}
		kind := windows.GetDriveType(ptr)
		if kind == windows.DRIVE_NO_ROOT_DIR || kind == windows.DRIVE_UNKNOWN {
			continue
		}
		roots = append(roots, root{name: path, path: path, readOnly: kind == windows.DRIVE_CDROM})
	}
	return roots
}

func isHidden(info fs.FileInfo) bool {
	data, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return false
	}
	return data.FileAttributes&windows.FILE_ATTRIBUTE_HIDDEN != 0
}
