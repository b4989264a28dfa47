// Package api
// Author: momentics
//
// Buffer contract shared by the pool and the channel.

package api

// Buffer is write space handed out by Channel.GetBuffer. The caller fills
// Data()[:n] and records n with SetLength before calling Channel.Write.
type Buffer interface {
	// Data returns the writable payload window of the current message.
	Data() []byte

	// Length is the number of payload bytes committed so far.
	Length() int

	// SetLength commits n bytes of Data as payload.
	SetLength(n int) error

	// Write appends p to the committed payload.
	Write(p []byte) (int, error)

	// Capacity is the payload room of the current message.
	Capacity() int

	// IsBig reports whether the buffer will be sent as fragments.
	IsBig() bool
}
