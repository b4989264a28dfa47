// File: protocol/frame_codec.go
// Package protocol implements the receive-side frame parser.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
)

// FrameKind classifies a parsed frame.
type FrameKind uint8

const (
	KindPing FrameKind = iota
	KindData
	KindPacked
	KindFirstFragment
	KindNextFragment
)

func (k FrameKind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindData:
		return "data"
	case KindPacked:
		return "packed"
	case KindFirstFragment:
		return "first_fragment"
	case KindNextFragment:
		return "next_fragment"
	default:
		return "unknown"
	}
}

// Frame is a parsed view over bytes owned by the caller. Payload aliases the
// input slice.
type Frame struct {
	Kind         FrameKind
	Flags        byte
	ExtFlags     byte
	Length       int
	HeaderLength int
	Payload      []byte
	// TotalLength and FragmentID are set for fragments only; TotalLength
	// only on the first one.
	TotalLength uint32
	FragmentID  uint16
}

// Compressed reports whether the payload must be inflated before use.
func (f Frame) Compressed() bool { return f.Flags&FlagCompressed != 0 }

// ParseFrame parses the frame at the head of b. It returns
// ErrIncompleteFrame when b does not yet hold the whole frame.
func ParseFrame(b []byte, v ConnectionVersion) (Frame, error) {
	length, ok := FrameLength(b)
	if !ok || len(b) < HeaderLength {
		return Frame{}, ErrIncompleteFrame
	}
	if length < HeaderLength {
		return Frame{}, fmt.Errorf("%w: length %d", ErrMalformedFrame, length)
	}
	if len(b) < length {
		return Frame{}, ErrIncompleteFrame
	}
	flags := b[2]
	if flags&^knownFlags != 0 {
		return Frame{}, fmt.Errorf("%w: flags 0x%02x", ErrMalformedFrame, flags)
	}
	f := Frame{Flags: flags, Length: length, HeaderLength: HeaderLength}

	if flags&FlagHasOptional == 0 {
		if flags&(FlagData|FlagPacking) == 0 {
			return Frame{}, fmt.Errorf("%w: flags 0x%02x", ErrMalformedFrame, flags)
		}
		f.Payload = b[HeaderLength:length]
		switch {
		case len(f.Payload) == 0:
			f.Kind = KindPing
		case flags&FlagPacking != 0:
			f.Kind = KindPacked
		default:
			f.Kind = KindData
		}
		return f, nil
	}

	if flags&FlagCompressed != 0 {
		return Frame{}, fmt.Errorf("%w: compressed fragment", ErrMalformedFrame)
	}
	if length < HeaderLength+1 {
		return Frame{}, fmt.Errorf("%w: missing extended flags", ErrMalformedFrame)
	}
	f.ExtFlags = b[3]
	switch {
	case f.ExtFlags&ExtFlagFragmentHeader != 0:
		f.HeaderLength = v.FirstFragmentHeaderLength()
		if length < f.HeaderLength {
			return Frame{}, fmt.Errorf("%w: short first fragment", ErrMalformedFrame)
		}
		f.Kind = KindFirstFragment
		f.TotalLength = binary.BigEndian.Uint32(b[4:])
		f.FragmentID = fragmentID(b[8:], v)
		if f.TotalLength == 0 {
			return Frame{}, fmt.Errorf("%w: zero total length", ErrMalformedFrame)
		}
	case f.ExtFlags&ExtFlagFragment != 0:
		f.HeaderLength = v.NextFragmentHeaderLength()
		if length < f.HeaderLength {
			return Frame{}, fmt.Errorf("%w: short fragment", ErrMalformedFrame)
		}
		f.Kind = KindNextFragment
		f.FragmentID = fragmentID(b[4:], v)
	default:
		return Frame{}, fmt.Errorf("%w: extended flags 0x%02x", ErrMalformedFrame, f.ExtFlags)
	}
	if f.FragmentID == 0 {
		return Frame{}, ErrFragmentID
	}
	f.Payload = b[f.HeaderLength:length]
	return f, nil
}

// SplitPacked returns the lead sub-message of a packed envelope and the rest
// of the envelope.
func SplitPacked(env []byte) (msg, rest []byte, err error) {
	if len(env) < PackedHeaderLength {
		return nil, nil, ErrMalformedPacked
	}
	n := int(binary.BigEndian.Uint16(env))
	end := PackedHeaderLength + n
	if end > len(env) {
		return nil, nil, fmt.Errorf("%w: sub-length %d exceeds envelope %d", ErrMalformedPacked, n, len(env)-PackedHeaderLength)
	}
	return env[PackedHeaderLength:end], env[end:], nil
}

// UnpackAll splits a whole packed envelope into its sub-messages in order.
func UnpackAll(env []byte) ([][]byte, error) {
	var out [][]byte
	for len(env) > 0 {
		msg, rest, err := SplitPacked(env)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
		env = rest
	}
	return out, nil
}
