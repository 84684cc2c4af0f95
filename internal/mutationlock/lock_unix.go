//go:build !windows

package mutationlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type filePrimitive struct {
	lock *flock.Flock
}

func newOSPrimitive(_ string, path string) (primitive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &filePrimitive{lock: flock.New(path)}, nil
}

func (p *filePrimitive) TryLock() (bool, error) {
	return p.lock.TryLock()
}

func (p *filePrimitive) Unlock() error {
	return p.lock.Unlock()
}
