// File: transport/ping.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heartbeat bookkeeping. The monitor never reads the clock; callers pass
// the time in.

package transport

import (
	"sync/atomic"
	"time"
)

// PingMonitor decides when a heartbeat is due and when the peer has gone
// quiet for a whole timeout.
type PingMonitor struct {
	timeout  time.Duration
	interval time.Duration
	nextSend time.Time
	deadline time.Time
	// received and sent are set by the read and write paths, which may run
	// on different goroutines when global locking is on.
	received atomic.Bool
	sent     atomic.Bool
}

// NewPingMonitor starts the schedule at now: the first heartbeat is due
// after a third of timeout and the peer must be heard from within timeout.
func NewPingMonitor(timeout time.Duration, now time.Time) *PingMonitor {
	m := &PingMonitor{timeout: timeout, interval: timeout / 3}
	m.nextSend = now.Add(m.interval)
	m.deadline = now.Add(timeout)
	return m
}

// Received records that a frame of any kind arrived.
func (m *PingMonitor) Received() { m.received.Store(true) }

// Sent records outbound traffic; it stands in for the next heartbeat.
func (m *PingMonitor) Sent() { m.sent.Store(true) }

// Tick advances the schedule. sendDue asks for a heartbeat; it is
// suppressed when other frames went out since the previous due point.
// timedOut means nothing arrived during the last full timeout.
func (m *PingMonitor) Tick(now time.Time) (sendDue, timedOut bool) {
	if !now.Before(m.nextSend) {
		sendDue = !m.sent.Swap(false)
		m.nextSend = now.Add(m.interval)
	}
	if !now.Before(m.deadline) {
		if !m.received.Swap(false) {
			return sendDue, true
		}
		m.deadline = now.Add(m.timeout)
	}
	return sendDue, false
}

// Timeout is the negotiated ping timeout.
func (m *PingMonitor) Timeout() time.Duration { return m.timeout }

// NextSend is when the next heartbeat falls due.
func (m *PingMonitor) NextSend() time.Time { return m.nextSend }

// Deadline is when the peer is next checked for silence.
func (m *PingMonitor) Deadline() time.Time { return m.deadline }
