// Package transport
// Author: momentics <momentics@gmail.com>
//
// RIPC channels over TCP.
//
// A Runtime creates client channels (Connect) and servers (Bind). Each
// Channel runs its handshake with Init, then moves messages with
// GetBuffer/Write/Flush on the send side and Read on the receive side.
// Non-blocking channels never wait: every call returns a code telling the
// caller's event loop what to do next. Heartbeats are driven by the caller
// through CheckPings.
package transport
