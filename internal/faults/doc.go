// Package faults defines the error taxonomy shared by the control plane.
//
// Components wrap failures with one of the sentinel markers so the router can
// classify them with errors.Is, record a failure report, and answer the hub
// with a short public reason that never leaks local detail.
package faults
