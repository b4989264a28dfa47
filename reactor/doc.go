// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor is the readiness poller used to drive non-blocking
// channels: listener sockets, channel sockets during Init, and write
// interest while a channel has queued output.
package reactor
