// Package control exposes the daemon over JSON-RPC on a Unix domain socket
// and ships the matching client used by the tether CLI.
//
// It owns the control socket lifecycle and the request/response DTOs. The
// server answers read-only queries (status, companion sessions, terminal
// sessions, failure reports); the companion channel lives in package ipc.
package control
