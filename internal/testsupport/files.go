package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories, and
// returns path.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()
	writeBytes(t, path, []byte(content))
	return path
}

// Pattern returns size bytes of a repeating non-zero pattern, so that
// misordered chunks are detectable.
func Pattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) + 1
	}
	return data
}

// WriteSized writes Pattern(size) to path and returns the bytes written.
func WriteSized(t testing.TB, path string, size int) []byte {
	t.Helper()
	data := Pattern(size)
	writeBytes(t, path, data)
	return data
}

func writeBytes(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
