// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Output buffers: a normal buffer maps to one frame slot, a big buffer holds
// a whole oversized message that is sent as fragments.

package pool

import (
	"errors"
	"io"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/protocol"
)

var (
	ErrNoBuffers     = errors.New("pool: no buffers available")
	ErrNotPackable   = errors.New("pool: buffer was not acquired as packable")
	ErrLengthRange   = errors.New("pool: length outside buffer capacity")
	ErrBufferState   = errors.New("pool: buffer is not checked out")
	ErrFragmentsDone = errors.New("pool: all fragments already emitted")
)

type bufState uint8

const (
	stateFree bufState = iota
	stateCheckedOut
	stateQueued
)

// bigState tracks the fragmentation progress of a big buffer.
type bigState struct {
	id      uint16
	total   int
	sent    int
	started bool
	paused  bool
}

// Buffer is write space owned by one ChannelPool.
type Buffer struct {
	owner *ChannelPool
	src   *SlabPool
	slot  int
	data  []byte
	state bufState

	// start is the offset of the current message payload; length is how
	// much of it the caller committed.
	start  int
	length int

	packable bool
	// pos is the offset of the current sub-message length field.
	pos    int
	full   bool
	packed int

	big *bigState
}

var _ api.Buffer = (*Buffer)(nil)

// Data returns the writable payload window of the current message.
func (b *Buffer) Data() []byte { return b.data[b.start:] }

// Length is the committed payload length of the current message.
func (b *Buffer) Length() int { return b.length }

// Capacity is the payload room of the current message.
func (b *Buffer) Capacity() int { return len(b.data) - b.start }

// IsBig reports whether the buffer is sent as fragments.
func (b *Buffer) IsBig() bool { return b.big != nil }

// IsPackable reports whether Pack may be used.
func (b *Buffer) IsPackable() bool { return b.packable }

// Packed is the number of sub-messages sealed so far.
func (b *Buffer) Packed() int { return b.packed }

// SetLength commits n bytes of Data as payload.
func (b *Buffer) SetLength(n int) error {
	if n < 0 || n > b.Capacity() {
		return ErrLengthRange
	}
	if b.big != nil && b.big.started {
		return ErrBufferState
	}
	b.length = n
	return nil
}

// Write appends p after the committed payload.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.big != nil && b.big.started {
		return 0, ErrBufferState
	}
	n := copy(b.data[b.start+b.length:], p)
	b.length += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Pack seals the current sub-message and opens the next one. It returns the
// payload room left for the next sub-message.
func (b *Buffer) Pack() (int, error) {
	if !b.packable {
		return 0, ErrNotPackable
	}
	if b.state != stateCheckedOut {
		return 0, ErrBufferState
	}
	if b.full {
		return 0, nil
	}
	if err := protocol.PutPackedLength(b.data[b.pos:], b.length); err != nil {
		return 0, err
	}
	b.packed++
	b.pos = b.start + b.length
	b.length = 0
	if b.pos+protocol.PackedHeaderLength > len(b.data) {
		b.full = true
		b.start = b.pos
		return 0, nil
	}
	b.start = b.pos + protocol.PackedHeaderLength
	return b.Capacity(), nil
}

// Finish writes the frame header and returns the frame bytes. An empty
// trailing sub-message of a packed buffer is dropped.
func (b *Buffer) Finish(extraFlags byte) ([]byte, error) {
	if b.big != nil {
		return nil, ErrBufferState
	}
	if !b.packable {
		n, err := protocol.FinishFrame(b.data, b.length, protocol.FlagData|extraFlags)
		if err != nil {
			return nil, err
		}
		return b.data[:n], nil
	}
	end := b.pos
	if !b.full && b.length > 0 {
		if err := protocol.PutPackedLength(b.data[b.pos:], b.length); err != nil {
			return nil, err
		}
		b.packed++
		end = b.start + b.length
	}
	n, err := protocol.FinishFrame(b.data, end-protocol.HeaderLength, protocol.FlagData|protocol.FlagPacking|extraFlags)
	if err != nil {
		return nil, err
	}
	b.full = true
	return b.data[:n], nil
}

// FragmentID is the id shared by every fragment of a big buffer, 0 otherwise.
func (b *Buffer) FragmentID() uint16 {
	if b.big == nil {
		return 0
	}
	return b.big.id
}

// FragmentsDone reports whether every byte of a big buffer was emitted.
func (b *Buffer) FragmentsDone() bool {
	return b.big != nil && b.big.started && b.big.sent >= b.big.total
}

// WritePaused reports whether the last fragment write was backpressured.
func (b *Buffer) WritePaused() bool { return b.big != nil && b.big.paused }

// SetWritePaused records backpressure on a big buffer.
func (b *Buffer) SetWritePaused(paused bool) {
	if b.big != nil {
		b.big.paused = paused
	}
}

// Owner is the ChannelPool the buffer came from.
func (b *Buffer) Owner() *ChannelPool { return b.owner }

// emitFragment writes the next fragment of a big buffer into dst.
func (b *Buffer) emitFragment(dst []byte, v protocol.ConnectionVersion) (int, error) {
	st := b.big
	if !st.started {
		st.started = true
		st.total = b.length
	}
	if st.sent >= st.total {
		return 0, ErrFragmentsDone
	}
	src := b.data[st.sent:st.total]
	var n, frameLen int
	var err error
	if st.sent == 0 {
		n, frameLen, err = protocol.PutFirstFragment(dst, v, src, uint32(st.total), st.id)
	} else {
		n, frameLen, err = protocol.PutNextFragment(dst, v, src, st.id)
	}
	if err != nil {
		return 0, err
	}
	st.sent += n
	return frameLen, nil
}

// Queued reports whether the buffer sits in a channel write queue.
func (b *Buffer) Queued() bool { return b.state == stateQueued }

// Released reports whether the buffer went back to its pool.
func (b *Buffer) Released() bool { return b.state == stateFree }
