// File: protocol/compression.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-frame compression codecs. Each frame is compressed on its own so the
// receiver never needs state from earlier frames.

package protocol

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// CompressionType is negotiated during the handshake.
type CompressionType uint16

const (
	CompressionNone CompressionType = 0
	CompressionZlib CompressionType = 1
	CompressionLZ4  CompressionType = 2
)

// Valid reports whether t is a known compression type.
func (t CompressionType) Valid() bool { return t <= CompressionLZ4 }

// Bit is the position of t in the handshake compression bitmap.
func (t CompressionType) Bit() byte { return 1 << t }

// DefaultThreshold is the smallest payload worth compressing.
func (t CompressionType) DefaultThreshold() int {
	switch t {
	case CompressionZlib:
		return 30
	case CompressionLZ4:
		return 300
	default:
		return 0
	}
}

func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint16(t))
	}
}

// ParseCompressionType maps a config name to a type.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "zlib":
		return CompressionZlib, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression type %q", s)
	}
}

// Codec compresses and inflates whole frame payloads. A Codec is owned by
// one channel and is not safe for concurrent use.
type Codec interface {
	Type() CompressionType
	// Compress writes the compressed form of src into dst and returns its
	// length, or 0 when the result would not be smaller than src.
	Compress(dst, src []byte) (int, error)
	// Decompress inflates src into dst and returns the inflated length.
	Decompress(dst, src []byte) (int, error)
}

// NewCodec builds the codec for t; level applies to zlib only.
func NewCodec(t CompressionType, level int) (Codec, error) {
	switch t {
	case CompressionNone:
		return nil, nil
	case CompressionZlib:
		w, err := zlib.NewWriterLevel(io.Discard, level)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCompression, err)
		}
		return &zlibCodec{w: w}, nil
	case CompressionLZ4:
		return &lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: type %d", ErrCompression, t)
	}
}

type zlibCodec struct {
	w   *zlib.Writer
	out bytes.Buffer
	in  bytes.Reader
	r   io.ReadCloser
}

func (c *zlibCodec) Type() CompressionType { return CompressionZlib }

func (c *zlibCodec) Compress(dst, src []byte) (int, error) {
	c.out.Reset()
	c.w.Reset(&c.out)
	if _, err := c.w.Write(src); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	if err := c.w.Close(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	if c.out.Len() >= len(src) || c.out.Len() > len(dst) {
		return 0, nil
	}
	return copy(dst, c.out.Bytes()), nil
}

func (c *zlibCodec) Decompress(dst, src []byte) (int, error) {
	c.in.Reset(src)
	var err error
	if c.r == nil {
		c.r, err = zlib.NewReader(&c.in)
	} else {
		err = c.r.(zlib.Resetter).Reset(&c.in, nil)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	n, err := io.ReadFull(c.r, dst)
	switch err {
	case nil:
		// dst filled exactly; anything left means dst was too small
		var probe [1]byte
		if m, _ := c.r.Read(probe[:]); m > 0 {
			return 0, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrCompression, len(dst))
		}
	case io.ErrUnexpectedEOF, io.EOF:
	default:
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	return n, nil
}

type lz4Codec struct {
	c lz4.Compressor
}

func (c *lz4Codec) Type() CompressionType { return CompressionLZ4 }

func (c *lz4Codec) Compress(dst, src []byte) (int, error) {
	n, err := c.c.CompressBlock(src, dst)
	if err != nil || n == 0 || n >= len(src) {
		// incompressible or dst too small: send the frame as is
		return 0, nil
	}
	return n, nil
}

func (c *lz4Codec) Decompress(dst, src []byte) (int, error) {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	return n, nil
}
