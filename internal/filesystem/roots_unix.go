//go:build !windows

package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type root struct {
	name     string
	path     string
	readOnly bool
}

// rootPaths returns "/" followed by mounted volumes under the usual mount
// parents.
func rootPaths() []root {
	roots := []root{{name: "/", path: "/"}}
	var parents []string
	if runtime.GOOS == "darwin" {
		parents = []string{"/Volumes"}
	} else {
		parents = []string{"/mnt", "/media"}
		if user := os.Getenv("USER"); user != "" {
			parents = append(parents, filepath.Join("/media", user), filepath.Join("/run/media", user))
		}
	}
	for _, parent := range parents {
		items, err := os.ReadDir(parent)
		if err != nil {
			continue
		}
		for _, item := range items {
			if !item.IsDir() && item.Type()&fs.ModeSymlink == 0 {
				continue
			}
			path := filepath.Join(parent, item.Name())
			roots = append(roots, root{name: item.Name(), path: path})
		}
	}
	return roots
}

func isHidden(info fs.FileInfo) bool {
	return strings.HasPrefix(info.Name(), ".") && info.Name() != "." && info.Name() != ".."
}
