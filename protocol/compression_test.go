package protocol_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/momentics/hioload-ripc/protocol"
)

func TestCodecs_RoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("market data update "), 200)
	for _, ct := range []protocol.CompressionType{protocol.CompressionZlib, protocol.CompressionLZ4} {
		codec, err := protocol.NewCodec(ct, 6)
		if err != nil {
			t.Fatalf("%s: %v", ct, err)
		}
		if codec.Type() != ct {
			t.Errorf("codec type %s want %s", codec.Type(), ct)
		}
		dst := make([]byte, len(src))
		n, err := codec.Compress(dst, src)
		if err != nil {
			t.Fatalf("%s compress: %v", ct, err)
		}
		if n == 0 || n >= len(src) {
			t.Fatalf("%s: repetitive input did not shrink (%d)", ct, n)
		}
		out := make([]byte, len(src))
		m, err := codec.Decompress(out, dst[:n])
		if err != nil {
			t.Fatalf("%s decompress: %v", ct, err)
		}
		if !bytes.Equal(out[:m], src) {
			t.Errorf("%s: round trip mismatch", ct)
		}

		// second frame through the same codec must not depend on the first
		n2, err := codec.Compress(dst, src[:500])
		if err != nil || n2 == 0 {
			t.Fatalf("%s: second compress failed: %d %v", ct, n2, err)
		}
		m2, err := codec.Decompress(out, dst[:n2])
		if err != nil || !bytes.Equal(out[:m2], src[:500]) {
			t.Errorf("%s: second round trip mismatch: %v", ct, err)
		}
	}
}

func TestCodecs_IncompressibleReturnsZero(t *testing.T) {
	src := make([]byte, 512)
	if _, err := rand.Read(src); err != nil {
		t.Fatal(err)
	}
	for _, ct := range []protocol.CompressionType{protocol.CompressionZlib, protocol.CompressionLZ4} {
		codec, _ := protocol.NewCodec(ct, 6)
		n, err := codec.Compress(make([]byte, len(src)), src)
		if err != nil {
			t.Fatalf("%s: %v", ct, err)
		}
		if n != 0 {
			t.Errorf("%s: random input reported %d compressed bytes", ct, n)
		}
	}
}

func TestCompressionType_Parse(t *testing.T) {
	for name, want := range map[string]protocol.CompressionType{
		"":     protocol.CompressionNone,
		"zlib": protocol.CompressionZlib,
		"lz4":  protocol.CompressionLZ4,
	} {
		got, err := protocol.ParseCompressionType(name)
		if err != nil || got != want {
			t.Errorf("%q: got %s, %v", name, got, err)
		}
	}
	if _, err := protocol.ParseCompressionType("snappy"); err == nil {
		t.Error("expected error for unknown type")
	}
}
