package terminal

import (
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// Kind identifies the runtime backing a session.
type Kind string

const (
	KindPTY  Kind = "pty"
	KindPipe Kind = "pipe"
)

// Runtime is a running shell.
type Runtime interface {
	Kind() Kind
	// Output yields everything the shell writes until it exits.
	Output() io.Reader
	Write(p []byte) (int, error)
	// Done is closed once the shell has exited.
	Done() <-chan struct{}
	Close() error
}

// Starter launches a shell runtime.
type Starter func(ctx context.Context, shell string) (Runtime, error)

// DefaultShell picks the login shell for the current platform.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func shellCommand(shell string) *exec.Cmd {
	cmd := exec.Command(shell)
	if home, err := os.UserHomeDir(); err == nil {
		cmd.Dir = home
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	return cmd
}

// exitWatch closes done once cmd has been waited on.
type exitWatch struct {
	cmd       *exec.Cmd
	done      chan struct{}
	closeOnce sync.Once
}

func watchExit(cmd *exec.Cmd, after func()) *exitWatch {
	w := &exitWatch{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		if after != nil {
			after()
		}
		close(w.done)
	}()
	return w
}

func (w *exitWatch) Done() <-chan struct{} { return w.done }

func (w *exitWatch) kill() {
	w.closeOnce.Do(func() {
		select {
		case <-w.done:
		default:
			if w.cmd.Process != nil {
				_ = w.cmd.Process.Kill()
			}
		}
	})
}

// pipeRuntime drives a shell through plain pipes. Stdout and stderr share
// one stream.
type pipeRuntime struct {
	*exitWatch
	stdin  io.WriteCloser
	output *io.PipeReader
}

// StartPipe launches shell with piped stdio.
func StartPipe(_ context.Context, shell string) (Runtime, error) {
	cmd := shellCommand(shell)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.Stderr = writer
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = writer.Close()
		return nil, err
	}
	rt := &pipeRuntime{stdin: stdin, output: reader}
	rt.exitWatch = watchExit(cmd, func() { _ = writer.Close() })
	return rt, nil
}

func (p *pipeRuntime) Kind() Kind { return KindPipe }

func (p *pipeRuntime) Output() io.Reader { return p.output }

func (p *pipeRuntime) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *pipeRuntime) Close() error {
	err := p.stdin.Close()
	p.kill()
	_ = p.output.Close()
	return err
}
