// File: protocol/handshake.go
// Package protocol
// Connection handshake messages: request, acknowledgement and rejection.
// All three share the u16 length prefix of data frames followed by an
// opcode byte.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Handshake opcodes occupy the flags position of the frame header.
const (
	OpConnectReq byte = 0x00
	OpConnectAck byte = 0x01
	OpConnectNak byte = 0x02
)

// MaxHandshakeLength bounds a handshake message.
const MaxHandshakeLength = 1024

const maxNakText = 512

// ConnectReq is sent by the client for each candidate protocol.
type ConnectReq struct {
	Version          ConnectionVersion
	Flags            byte
	CompressionMask  byte
	PingTimeout      uint8
	ProtocolType     uint8
	MajorVersion     uint8
	MinorVersion     uint8
	ComponentVersion string
	// PublicKey is present only when key exchange is offered.
	PublicKey []byte
}

// ConnectReq flags.
const (
	ReqFlagKeyExchange byte = 0x01
)

// ConnectAck accepts a request and fixes the session parameters.
type ConnectAck struct {
	Version          ConnectionVersion
	MaxFragmentSize  uint16
	PingTimeout      uint8
	MajorVersion     uint8
	MinorVersion     uint8
	CompressionType  CompressionType
	CompressionLevel uint8
	ComponentVersion string
	PublicKey        []byte
}

// ConnectNak rejects a request. The server closes the socket after it.
type ConnectNak struct {
	Text string
}

// writer appends big-endian fields and records the first overflow.
type writer struct {
	b   []byte
	err error
}

func (w *writer) u8(v byte)    { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }

func (w *writer) short(s []byte) {
	if len(s) > 0xFF {
		w.err = fmt.Errorf("%w: field of %d bytes", ErrMalformedHandshake, len(s))
		return
	}
	w.u8(byte(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if len(w.b) > MaxHandshakeLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedHandshake, len(w.b))
	}
	binary.BigEndian.PutUint16(w.b, uint16(len(w.b)))
	return w.b, nil
}

func newWriter(op byte) *writer {
	w := &writer{b: make([]byte, HeaderLength, 64)}
	w.b[2] = op
	return w
}

// reader consumes big-endian fields and records the first underflow.
type reader struct {
	b   []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = ErrMalformedHandshake
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) short() []byte {
	n := int(r.u8())
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func openMessage(msg []byte, op byte) (*reader, error) {
	n, ok := FrameLength(msg)
	if !ok || n < HeaderLength || n != len(msg) {
		return nil, ErrMalformedHandshake
	}
	if msg[2] != op {
		return nil, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrUnexpectedOpcode, msg[2], op)
	}
	return &reader{b: msg[HeaderLength:]}, nil
}

// Opcode returns the opcode of a complete handshake message.
func Opcode(msg []byte) (byte, error) {
	if len(msg) < HeaderLength {
		return 0, ErrMalformedHandshake
	}
	return msg[2], nil
}

// Encode serializes the request.
func (m *ConnectReq) Encode() ([]byte, error) {
	w := newWriter(OpConnectReq)
	w.u32(uint32(m.Version))
	flags := m.Flags
	if len(m.PublicKey) > 0 {
		flags |= ReqFlagKeyExchange
	}
	w.u8(flags)
	w.u8(1)
	w.u8(m.CompressionMask)
	w.u8(m.PingTimeout)
	w.u8(m.ProtocolType)
	w.u8(m.MajorVersion)
	w.u8(m.MinorVersion)
	w.short([]byte(m.ComponentVersion))
	if flags&ReqFlagKeyExchange != 0 {
		w.short(m.PublicKey)
	}
	return w.finish()
}

// DecodeConnectReq parses a complete request message.
func DecodeConnectReq(msg []byte) (*ConnectReq, error) {
	r, err := openMessage(msg, OpConnectReq)
	if err != nil {
		return nil, err
	}
	m := &ConnectReq{}
	m.Version = ConnectionVersion(r.u32())
	m.Flags = r.u8()
	mask := r.take(int(r.u8()))
	if len(mask) > 0 {
		m.CompressionMask = mask[0]
	}
	m.PingTimeout = r.u8()
	m.ProtocolType = r.u8()
	m.MajorVersion = r.u8()
	m.MinorVersion = r.u8()
	m.ComponentVersion = string(r.short())
	if m.Flags&ReqFlagKeyExchange != 0 {
		m.PublicKey = r.short()
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// Encode serializes the acknowledgement.
func (m *ConnectAck) Encode() ([]byte, error) {
	w := newWriter(OpConnectAck)
	w.u32(uint32(m.Version))
	w.u16(m.MaxFragmentSize)
	w.u8(m.PingTimeout)
	w.u8(m.MajorVersion)
	w.u8(m.MinorVersion)
	w.u16(uint16(m.CompressionType))
	w.u8(m.CompressionLevel)
	w.short([]byte(m.ComponentVersion))
	w.short(m.PublicKey)
	return w.finish()
}

// DecodeConnectAck parses a complete acknowledgement message.
func DecodeConnectAck(msg []byte) (*ConnectAck, error) {
	r, err := openMessage(msg, OpConnectAck)
	if err != nil {
		return nil, err
	}
	m := &ConnectAck{}
	m.Version = ConnectionVersion(r.u32())
	m.MaxFragmentSize = r.u16()
	m.PingTimeout = r.u8()
	m.MajorVersion = r.u8()
	m.MinorVersion = r.u8()
	m.CompressionType = CompressionType(r.u16())
	m.CompressionLevel = r.u8()
	m.ComponentVersion = string(r.short())
	m.PublicKey = r.short()
	if r.err != nil {
		return nil, r.err
	}
	if len(m.PublicKey) == 0 {
		m.PublicKey = nil
	}
	return m, nil
}

// Encode serializes the rejection.
func (m *ConnectNak) Encode() ([]byte, error) {
	w := newWriter(OpConnectNak)
	text := m.Text
	if len(text) > maxNakText {
		text = text[:maxNakText]
	}
	w.u16(uint16(len(text)))
	w.b = append(w.b, text...)
	return w.finish()
}

// DecodeConnectNak parses a complete rejection message.
func DecodeConnectNak(msg []byte) (*ConnectNak, error) {
	r, err := openMessage(msg, OpConnectNak)
	if err != nil {
		return nil, err
	}
	n := int(r.u16())
	text := r.take(n)
	if r.err != nil {
		return nil, r.err
	}
	return &ConnectNak{Text: string(text)}, nil
}
