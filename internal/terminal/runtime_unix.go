//go:build !windows

package terminal

import (
	"context"
	"io"
	"os"

	"github.com/creack/pty"
)

const (
	defaultRows = 24
	defaultCols = 80
)

type ptyRuntime struct {
	*exitWatch
	ptmx *os.File
}

// StartPTY launches shell attached to a new pseudo terminal.
func StartPTY(_ context.Context, shell string) (Runtime, error) {
	cmd := shellCommand(shell)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: defaultRows, Cols: defaultCols})
	if err != nil {
		return nil, err
	}
	return &ptyRuntime{exitWatch: watchExit(cmd, nil), ptmx: ptmx}, nil
}

func (p *ptyRuntime) Kind() Kind { return KindPTY }

func (p *ptyRuntime) Output() io.Reader { return p.ptmx }

func (p *ptyRuntime) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyRuntime) Close() error {
	p.kill()
	return p.ptmx.Close()
}

func defaultStarter() Starter { return StartPTY }
