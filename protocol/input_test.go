package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/momentics/hioload-ripc/protocol"
)

func dataFrame(payload []byte) []byte {
	b := make([]byte, protocol.HeaderLength+len(payload))
	copy(b[protocol.HeaderLength:], payload)
	if _, err := protocol.FinishFrame(b, len(payload), protocol.FlagData); err != nil {
		panic(err)
	}
	return b
}

// trickle hands out at most step bytes per Read.
type trickle struct {
	data []byte
	step int
}

func (r *trickle) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.step
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestInputBuffer_PartialFrames(t *testing.T) {
	a := pattern(100)
	b := []byte("second")
	stream := append(dataFrame(a), dataFrame(b)...)
	src := &trickle{data: stream, step: 7}

	in := protocol.NewInputBuffer(64)
	var got [][]byte
	for len(got) < 2 {
		f, err := in.Next(protocol.NewestVersion)
		if errors.Is(err, protocol.ErrIncompleteFrame) {
			if _, err := in.Fill(src); err != nil {
				t.Fatalf("fill: %v", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, append([]byte(nil), f.Payload...))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Error("payload mismatch across partial reads")
	}
	if in.Buffered() != 0 {
		t.Errorf("expected empty buffer, %d bytes left", in.Buffered())
	}
	if in.Cap() < len(a)+protocol.HeaderLength {
		t.Errorf("buffer did not grow to hold a %d byte frame", len(a)+protocol.HeaderLength)
	}
}

func TestInputBuffer_CompactPreservesPartial(t *testing.T) {
	in := protocol.NewInputBuffer(32)
	in.Append(dataFrame([]byte("abcd")))
	in.Append([]byte{0x00, 0x09, protocol.FlagData, 'x'})
	if _, err := in.Next(protocol.NewestVersion); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Next(protocol.NewestVersion); !errors.Is(err, protocol.ErrIncompleteFrame) {
		t.Fatalf("expected incomplete, got %v", err)
	}
	in.Compact()
	if got := in.Bytes(); !bytes.Equal(got, []byte{0x00, 0x09, protocol.FlagData, 'x'}) {
		t.Errorf("partial bytes not preserved: %v", got)
	}
	if in.HasFrame() {
		t.Error("partial frame reported complete")
	}
}

func TestInputBuffer_NextMessage(t *testing.T) {
	nak := &protocol.ConnectNak{Text: "go away"}
	msg, err := nak.Encode()
	if err != nil {
		t.Fatal(err)
	}
	in := protocol.NewInputBuffer(16)
	in.Append(msg[:4])
	if _, err := in.NextMessage(); !errors.Is(err, protocol.ErrIncompleteFrame) {
		t.Fatalf("expected incomplete, got %v", err)
	}
	in.Append(msg[4:])
	got, err := in.NextMessage()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := protocol.DecodeConnectNak(got)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Text != "go away" {
		t.Errorf("unexpected text %q", decoded.Text)
	}
}
