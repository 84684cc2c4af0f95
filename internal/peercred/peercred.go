// Package peercred resolves the identity of the process on the other end of
// a local socket connection.
package peercred

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Credentials identifies a connected peer process.
type Credentials struct {
	PID            int
	UID            int
	ExecutablePath string
}

// ErrUnsupported is returned on platforms without a peer credential API.
var ErrUnsupported = errors.New("peer credentials unsupported on this platform")

// Resolve returns the peer credentials for conn, which must be a unix
// domain socket connection.
func Resolve(conn net.Conn) (Credentials, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return Credentials{}, fmt.Errorf("resolve peer: %T is not a socket connection", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve peer: %w", err)
	}

	var creds Credentials
	var inner error
	if err := raw.Control(func(fd uintptr) {
		creds, inner = fromFD(int(fd))
	}); err != nil {
		return Credentials{}, fmt.Errorf("resolve peer: %w", err)
	}
	if inner != nil {
		return Credentials{}, inner
	}
	if creds.PID <= 0 {
		return Credentials{}, fmt.Errorf("resolve peer: kernel returned pid %d", creds.PID)
	}

	path, err := executablePath(creds.PID)
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve executable for pid %d: %w", creds.PID, err)
	}
	creds.ExecutablePath = path
	return creds, nil
}

// Resolver adapts Resolve to an interface so callers can substitute it.
type Resolver interface {
	Resolve(conn net.Conn) (Credentials, error)
}

// System is the Resolver backed by the operating system.
type System struct{}

func (System) Resolve(conn net.Conn) (Credentials, error) { return Resolve(conn) }
