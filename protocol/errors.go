// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "errors"

var (
	ErrIncompleteFrame    = errors.New("protocol: incomplete frame")
	ErrMalformedFrame     = errors.New("protocol: malformed frame")
	ErrFrameTooLarge      = errors.New("protocol: frame exceeds maximum length")
	ErrBufferTooSmall     = errors.New("protocol: buffer too small for header")
	ErrMalformedPacked    = errors.New("protocol: malformed packed sub-message")
	ErrFragmentID         = errors.New("protocol: invalid fragment id")
	ErrFragmentMismatch   = errors.New("protocol: fragment reassembly mismatch")
	ErrUnsupportedVersion = errors.New("protocol: unsupported connection version")
	ErrMalformedHandshake = errors.New("protocol: malformed handshake message")
	ErrUnexpectedOpcode   = errors.New("protocol: unexpected handshake opcode")
	ErrCompression        = errors.New("protocol: compression failure")
	ErrKeyExchange        = errors.New("protocol: key exchange failure")
)
