// File: protocol/input.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive buffer that accumulates socket bytes and peels complete frames.

package protocol

import "io"

// InputBuffer holds bytes read from the socket that have not been parsed
// yet. Slices handed out by Next stay valid until the following Fill.
type InputBuffer struct {
	buf   []byte
	start int
	end   int
}

// NewInputBuffer allocates a receive buffer of size bytes.
func NewInputBuffer(size int) *InputBuffer {
	if size < MaxHeaderOverhead {
		size = MaxHeaderOverhead
	}
	return &InputBuffer{buf: make([]byte, size)}
}

// Buffered is the number of unparsed bytes.
func (b *InputBuffer) Buffered() int { return b.end - b.start }

// Bytes returns the unparsed window.
func (b *InputBuffer) Bytes() []byte { return b.buf[b.start:b.end] }

// Cap is the current storage size.
func (b *InputBuffer) Cap() int { return len(b.buf) }

// Compact moves the unparsed bytes to the head of the storage and zeroes the
// vacated tail.
func (b *InputBuffer) Compact() {
	if b.start == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.start:b.end])
	clear(b.buf[n:b.end])
	b.start, b.end = 0, n
}

// Fill performs one read from r into the free tail, compacting first. The
// storage grows when the pending frame is larger than it.
func (b *InputBuffer) Fill(r io.Reader) (int, error) {
	b.Compact()
	if want, ok := FrameLength(b.Bytes()); ok && want > len(b.buf) {
		grown := make([]byte, want)
		copy(grown, b.buf[:b.end])
		b.buf = grown
	}
	if b.end == len(b.buf) {
		return 0, nil
	}
	n, err := r.Read(b.buf[b.end:])
	if n > 0 {
		b.end += n
	}
	return n, err
}

// Append copies p into the buffer. Used by tests and by callers that
// already hold the bytes.
func (b *InputBuffer) Append(p []byte) {
	b.Compact()
	if need := b.end + len(p); need > len(b.buf) {
		grown := make([]byte, need)
		copy(grown, b.buf[:b.end])
		b.buf = grown
	}
	b.end += copy(b.buf[b.end:], p)
}

// Next parses the frame at the head of the buffer and consumes it. It
// returns ErrIncompleteFrame, leaving the bytes in place, when more data is
// needed.
func (b *InputBuffer) Next(v ConnectionVersion) (Frame, error) {
	f, err := ParseFrame(b.Bytes(), v)
	if err != nil {
		return Frame{}, err
	}
	b.start += f.Length
	if b.start == b.end {
		b.start, b.end = 0, 0
	}
	return f, nil
}

// NextMessage consumes one length-prefixed handshake message without
// interpreting its flags byte.
func (b *InputBuffer) NextMessage() ([]byte, error) {
	n, ok := FrameLength(b.Bytes())
	if !ok {
		return nil, ErrIncompleteFrame
	}
	if n < HeaderLength {
		return nil, ErrMalformedHandshake
	}
	if b.Buffered() < n {
		return nil, ErrIncompleteFrame
	}
	msg := b.buf[b.start : b.start+n]
	b.start += n
	if b.start == b.end {
		b.start, b.end = 0, 0
	}
	return msg, nil
}

// HasFrame reports whether a complete frame is buffered.
func (b *InputBuffer) HasFrame() bool {
	n, ok := FrameLength(b.Bytes())
	return ok && n >= HeaderLength && b.Buffered() >= n
}
