package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPartialCommit(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "report.txt")

	p, err := CreatePartial(dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatal("destination must not exist before commit")
	}

	digest, err := p.Commit(11)
	if err != nil {
		t.Fatal(err)
	}
	if len(digest) != 64 {
		t.Fatalf("expected hex blake3 digest, got %q", digest)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content mismatch: got %q", got)
	}
	if _, err := os.Stat(dst + PartialSuffix); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
	if err := p.Abort(); err != nil {
		t.Fatalf("Abort after Commit: %v", err)
	}
}

func TestPartialAbortRemovesFile(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "upload.bin")

	p, err := CreatePartial(dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte("data")); err != nil {
		t.Fatal(err)
	}
	if err := p.Abort(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p.Path()); !os.IsNotExist(err) {
		t.Fatal("expected partial file removed")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatal("destination must not exist")
	}
}

func TestPartialSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "short.bin")

	p, err := CreatePartial(dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Commit(10); err == nil {
		t.Fatal("expected size mismatch")
	}
	if _, err := os.Stat(p.Path()); !os.IsNotExist(err) {
		t.Fatal("expected partial file removed after failed commit")
	}
}

func TestCreatePartialRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "exists.txt")
	if err := os.WriteFile(dst, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CreatePartial(dst, false); err == nil {
		t.Fatal("expected error for existing destination")
	}
	p, err := CreatePartial(dst, true)
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_ = p.Abort()
}
