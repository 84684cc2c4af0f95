//go:build linux || darwin

package peercred_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"tether/internal/peercred"
)

func TestResolveReportsOwnProcess(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "p.sock")
	listener, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	defer server.Close()

	creds, err := peercred.Resolve(server)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if creds.PID != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), creds.PID)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	want, _ := filepath.EvalSymlinks(exe)
	got, _ := filepath.EvalSymlinks(creds.ExecutablePath)
	if want != got {
		t.Fatalf("expected executable %q, got %q", want, got)
	}
}

func TestResolveRejectsNonSocket(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if _, err := peercred.Resolve(a); err == nil {
		t.Fatal("expected error for in-memory pipe")
	}
}
