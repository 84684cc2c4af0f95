package fileutil

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// PartialSuffix marks files that are still being written.
const PartialSuffix = ".partial"

// PartialFile writes to <dest>.partial and only moves the result into place
// on Commit. Abort removes the partial file.
type PartialFile struct {
	dest    string
	partial string
	file    *os.File
	hasher  hash.Hash
	written int64
	done    bool
}

// CreatePartial opens a fresh partial file for dest. With overwrite unset an
// existing dest is an error.
func CreatePartial(dest string, overwrite bool) (*PartialFile, error) {
	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			return nil, fmt.Errorf("%s already exists", dest)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat destination: %w", err)
		}
	}
	partial := dest + PartialSuffix
	file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &PartialFile{dest: dest, partial: partial, file: file, hasher: blake3.New()}, nil
}

// Path returns the partial file location.
func (p *PartialFile) Path() string { return p.partial }

// Written reports the bytes written so far.
func (p *PartialFile) Written() int64 { return p.written }

func (p *PartialFile) Write(b []byte) (int, error) {
	n, err := io.MultiWriter(p.file, p.hasher).Write(b)
	p.written += int64(n)
	return n, err
}

// Commit verifies the size when expected is positive, then renames the
// partial file to its destination. It returns the blake3 digest of the
// content. A failed commit removes the partial file.
func (p *PartialFile) Commit(expected int64) (string, error) {
	if p.done {
		return "", fmt.Errorf("partial file %s already finished", p.partial)
	}
	p.done = true
	if err := p.file.Close(); err != nil {
		_ = os.Remove(p.partial)
		return "", err
	}
	if expected > 0 && p.written != expected {
		_ = os.Remove(p.partial)
		return "", fmt.Errorf("size mismatch: expected %d bytes, received %d bytes", expected, p.written)
	}
	if err := os.Rename(p.partial, p.dest); err != nil {
		_ = os.Remove(p.partial)
		return "", err
	}
	return hex.EncodeToString(p.hasher.Sum(nil)), nil
}

// Abort discards the partial file. It is safe to call after Commit.
func (p *PartialFile) Abort() error {
	if p.done {
		return nil
	}
	p.done = true
	_ = p.file.Close()
	if err := os.Remove(p.partial); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
