// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame header layout and the pure writers used on the send path.
//
// Every frame starts with a big-endian u16 length covering the whole frame
// followed by a flags byte. Fragments add an extended flags byte, the first
// fragment also carries the u32 total payload length, and both carry the
// fragment id whose width depends on the connection version.

package protocol

import "encoding/binary"

const (
	HeaderLength       = 3
	PackedHeaderLength = 2
	MaxFrameLength     = 0xFFFF
	// MaxHeaderOverhead covers the widest header any frame can carry.
	MaxHeaderOverhead = 10
)

// Frame flags.
const (
	FlagHasOptional byte = 0x01
	FlagData        byte = 0x02
	FlagCompressed  byte = 0x04
	FlagPacking     byte = 0x10

	knownFlags = FlagHasOptional | FlagData | FlagCompressed | FlagPacking
)

// Extended flags carried when FlagHasOptional is set.
const (
	ExtFlagFragment       byte = 0x04
	ExtFlagFragmentHeader byte = 0x08
)

// PingFrame is the bare heartbeat frame.
var PingFrame = [HeaderLength]byte{0x00, HeaderLength, FlagData}

// PutHeader writes the frame length and flags at b[0:3].
func PutHeader(b []byte, frameLen int, flags byte) error {
	if len(b) < HeaderLength {
		return ErrBufferTooSmall
	}
	if frameLen < HeaderLength || frameLen > MaxFrameLength {
		return ErrFrameTooLarge
	}
	binary.BigEndian.PutUint16(b, uint16(frameLen))
	b[2] = flags
	return nil
}

// FrameLength peeks the length prefix of the frame at the head of b.
func FrameLength(b []byte) (int, bool) {
	if len(b) < 2 {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(b)), true
}

// FinishFrame writes the header for a frame whose payload already sits at
// b[HeaderLength:HeaderLength+payloadLen] and returns the frame length.
func FinishFrame(b []byte, payloadLen int, flags byte) (int, error) {
	frameLen := HeaderLength + payloadLen
	if frameLen > len(b) {
		return 0, ErrBufferTooSmall
	}
	if err := PutHeader(b, frameLen, flags); err != nil {
		return 0, err
	}
	return frameLen, nil
}

// PutPackedLength writes a packed sub-message length at b[0:2].
func PutPackedLength(b []byte, n int) error {
	if len(b) < PackedHeaderLength {
		return ErrBufferTooSmall
	}
	if n < 0 || n > MaxFrameLength {
		return ErrFrameTooLarge
	}
	binary.BigEndian.PutUint16(b, uint16(n))
	return nil
}

// PutFirstFragment writes the first fragment of a message of total bytes into
// dst and copies as much of src as fits. It returns the number of src bytes
// consumed and the frame length.
func PutFirstFragment(dst []byte, v ConnectionVersion, src []byte, total uint32, id uint16) (int, int, error) {
	hdr := v.FirstFragmentHeaderLength()
	dst = clampFrame(dst)
	if len(dst) < hdr {
		return 0, 0, ErrBufferTooSmall
	}
	if id == 0 || id > v.MaxFragmentID() {
		return 0, 0, ErrFragmentID
	}
	n := copy(dst[hdr:], src)
	frameLen := hdr + n
	if err := PutHeader(dst, frameLen, FlagHasOptional|FlagData); err != nil {
		return 0, 0, err
	}
	dst[3] = ExtFlagFragmentHeader
	binary.BigEndian.PutUint32(dst[4:], total)
	putFragmentID(dst[8:], v, id)
	return n, frameLen, nil
}

// PutNextFragment writes a continuation fragment into dst and copies as much
// of src as fits.
func PutNextFragment(dst []byte, v ConnectionVersion, src []byte, id uint16) (int, int, error) {
	hdr := v.NextFragmentHeaderLength()
	dst = clampFrame(dst)
	if len(dst) < hdr {
		return 0, 0, ErrBufferTooSmall
	}
	if id == 0 || id > v.MaxFragmentID() {
		return 0, 0, ErrFragmentID
	}
	n := copy(dst[hdr:], src)
	frameLen := hdr + n
	if err := PutHeader(dst, frameLen, FlagHasOptional|FlagData); err != nil {
		return 0, 0, err
	}
	dst[3] = ExtFlagFragment
	putFragmentID(dst[4:], v, id)
	return n, frameLen, nil
}

func clampFrame(b []byte) []byte {
	if len(b) > MaxFrameLength {
		return b[:MaxFrameLength]
	}
	return b
}

func putFragmentID(b []byte, v ConnectionVersion, id uint16) {
	if v.FragmentIDLength() == 2 {
		binary.BigEndian.PutUint16(b, id)
		return
	}
	b[0] = byte(id)
}

func fragmentID(b []byte, v ConnectionVersion) uint16 {
	if v.FragmentIDLength() == 2 {
		return binary.BigEndian.Uint16(b)
	}
	return uint16(b[0])
}
