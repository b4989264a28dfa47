// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller interface.

package reactor

import (
	"errors"
	"time"
)

// Interest is a set of readiness conditions.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event reports one ready descriptor.
type Event struct {
	Fd    int
	Ready Interest
	// Hangup is set on error or peer hangup; a read reports the cause.
	Hangup bool
}

// Poller watches descriptors for readiness. It is level-triggered: a
// descriptor stays ready until the condition is consumed.
type Poller interface {
	// Add starts watching fd.
	Add(fd int, in Interest) error
	// Modify replaces the interest set of a watched fd.
	Modify(fd int, in Interest) error
	// Remove stops watching fd. Closed descriptors leave the set on their
	// own, so removing one is not an error.
	Remove(fd int) error
	// Wait fills events and returns how many are ready. A negative timeout
	// waits forever; an interrupted wait returns zero events.
	Wait(events []Event, timeout time.Duration) (int, error)
	// Close releases the poller.
	Close() error
}

// ErrUnsupported is returned by New on platforms without a poller.
var ErrUnsupported = errors.New("reactor: this platform is not supported")

// Switch moves a registration from oldFd to newFd, as needed when a
// channel reconnects during its handshake. A negative fd is skipped.
func Switch(p Poller, oldFd, newFd int, in Interest) error {
	if oldFd >= 0 {
		_ = p.Remove(oldFd)
	}
	if newFd < 0 {
		return nil
	}
	return p.Add(newFd, in)
}
