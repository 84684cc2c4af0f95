//go:build windows

package preflight

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

func checkAccess(path string) error {
	probe, err := os.CreateTemp(path, ".tether-preflight-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

func isExecutable(info fs.FileInfo) bool {
	return strings.EqualFold(filepath.Ext(info.Name()), ".exe")
}
