//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without a poller.

package reactor

// New returns ErrUnsupported.
func New() (Poller, error) {
	return nil, ErrUnsupported
}
