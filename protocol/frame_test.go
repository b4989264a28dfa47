package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/momentics/hioload-ripc/protocol"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestNormalFrame_RoundTrip(t *testing.T) {
	const maxFragment = 6144
	for _, n := range []int{1, 2, 40, 255, 256, 1000, maxFragment - 1, maxFragment} {
		payload := pattern(n)
		storage := make([]byte, protocol.HeaderLength+maxFragment)
		copy(storage[protocol.HeaderLength:], payload)
		frameLen, err := protocol.FinishFrame(storage, n, protocol.FlagData)
		if err != nil {
			t.Fatalf("n=%d: finish: %v", n, err)
		}
		if frameLen != n+protocol.HeaderLength {
			t.Fatalf("n=%d: frame length %d", n, frameLen)
		}
		f, err := protocol.ParseFrame(storage[:frameLen], protocol.NewestVersion)
		if err != nil {
			t.Fatalf("n=%d: parse: %v", n, err)
		}
		if f.Kind != protocol.KindData || f.Length != frameLen {
			t.Errorf("n=%d: unexpected frame %+v", n, f)
		}
		if !bytes.Equal(f.Payload, payload) {
			t.Errorf("n=%d: payload mismatch", n)
		}
	}
}

func TestParseFrame_HeaderOnlyIsPing(t *testing.T) {
	f, err := protocol.ParseFrame(protocol.PingFrame[:], protocol.NewestVersion)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != protocol.KindPing {
		t.Errorf("expected ping, got %s", f.Kind)
	}

	empty := []byte{0x00, 0x03, protocol.FlagData | protocol.FlagPacking}
	f, err = protocol.ParseFrame(empty, protocol.NewestVersion)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != protocol.KindPing {
		t.Errorf("empty packed envelope should be a ping, got %s", f.Kind)
	}
}

func TestParseFrame_IncompleteAndMalformed(t *testing.T) {
	if _, err := protocol.ParseFrame([]byte{0x00}, protocol.NewestVersion); !errors.Is(err, protocol.ErrIncompleteFrame) {
		t.Errorf("expected incomplete, got %v", err)
	}
	if _, err := protocol.ParseFrame([]byte{0x00, 0x08, protocol.FlagData, 1, 2}, protocol.NewestVersion); !errors.Is(err, protocol.ErrIncompleteFrame) {
		t.Errorf("expected incomplete, got %v", err)
	}
	if _, err := protocol.ParseFrame([]byte{0x00, 0x02, protocol.FlagData}, protocol.NewestVersion); !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Errorf("expected malformed for short length, got %v", err)
	}
	if _, err := protocol.ParseFrame([]byte{0x00, 0x04, 0x80, 0x00}, protocol.NewestVersion); !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Errorf("expected malformed for unknown flags, got %v", err)
	}
	if _, err := protocol.ParseFrame([]byte{0x00, 0x04, protocol.FlagHasOptional | protocol.FlagData, 0x00}, protocol.NewestVersion); !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Errorf("expected malformed for empty extended flags, got %v", err)
	}
}

func TestPacked_PreservesOrder(t *testing.T) {
	msgs := [][]byte{[]byte("alpha"), {}, pattern(300), []byte("z")}
	frame := make([]byte, protocol.HeaderLength)
	for _, m := range msgs {
		sub := make([]byte, protocol.PackedHeaderLength)
		if err := protocol.PutPackedLength(sub, len(m)); err != nil {
			t.Fatal(err)
		}
		frame = append(frame, sub...)
		frame = append(frame, m...)
	}
	if _, err := protocol.FinishFrame(frame, len(frame)-protocol.HeaderLength, protocol.FlagData|protocol.FlagPacking); err != nil {
		t.Fatal(err)
	}

	f, err := protocol.ParseFrame(frame, protocol.NewestVersion)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != protocol.KindPacked {
		t.Fatalf("expected packed, got %s", f.Kind)
	}
	got, err := protocol.UnpackAll(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d sub-messages, want %d", len(got), len(msgs))
	}
	for i := range msgs {
		if !bytes.Equal(got[i], msgs[i]) {
			t.Errorf("sub-message %d mismatch", i)
		}
	}
}

func TestSplitPacked_RejectsOverrun(t *testing.T) {
	if _, _, err := protocol.SplitPacked([]byte{0x00, 0x09, 'a'}); !errors.Is(err, protocol.ErrMalformedPacked) {
		t.Errorf("expected malformed packed, got %v", err)
	}
}

func fragmentAndReassemble(t *testing.T, v protocol.ConnectionVersion, frameCap int, payload []byte, id uint16) (int, []byte) {
	t.Helper()
	var wire [][]byte
	sent := 0
	for sent < len(payload) {
		dst := make([]byte, frameCap)
		var n, frameLen int
		var err error
		if sent == 0 {
			n, frameLen, err = protocol.PutFirstFragment(dst, v, payload, uint32(len(payload)), id)
		} else {
			n, frameLen, err = protocol.PutNextFragment(dst, v, payload[sent:], id)
		}
		if err != nil {
			t.Fatalf("fragment at %d: %v", sent, err)
		}
		sent += n
		wire = append(wire, dst[:frameLen])
	}

	var out []byte
	var total uint32
	sum := 0
	for i, w := range wire {
		f, err := protocol.ParseFrame(w, v)
		if err != nil {
			t.Fatalf("parse fragment %d: %v", i, err)
		}
		if f.FragmentID != id {
			t.Fatalf("fragment %d id %d want %d", i, f.FragmentID, id)
		}
		if i == 0 {
			if f.Kind != protocol.KindFirstFragment {
				t.Fatalf("first frame kind %s", f.Kind)
			}
			total = f.TotalLength
		} else if f.Kind != protocol.KindNextFragment {
			t.Fatalf("frame %d kind %s", i, f.Kind)
		}
		sum += len(f.Payload)
		out = append(out, f.Payload...)
	}
	if int(total) != sum {
		t.Errorf("declared total %d, sum of slices %d", total, sum)
	}
	return len(wire), out
}

func TestFragmentation_RoundTrip(t *testing.T) {
	const frameCap = 6144 + protocol.HeaderLength
	payload := pattern(20000)

	frames, out := fragmentAndReassemble(t, protocol.ConnectionVersion14, frameCap, payload, 0xFFFF)
	if frames < 4 {
		t.Errorf("expected at least 4 fragments, got %d", frames)
	}
	if !bytes.Equal(out, payload) {
		t.Error("reassembled payload mismatch")
	}

	_, out = fragmentAndReassemble(t, protocol.ConnectionVersion11, frameCap, payload, 200)
	if !bytes.Equal(out, payload) {
		t.Error("reassembled payload mismatch with one-byte ids")
	}
}

func TestFragmentation_HeaderWidths(t *testing.T) {
	dst := make([]byte, 64)
	_, frameLen, err := protocol.PutFirstFragment(dst, protocol.ConnectionVersion12, []byte("abc"), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if frameLen != 9+3 {
		t.Errorf("v12 first fragment length %d", frameLen)
	}
	_, frameLen, err = protocol.PutNextFragment(dst, protocol.ConnectionVersion13, []byte("abc"), 7)
	if err != nil {
		t.Fatal(err)
	}
	if frameLen != 6+3 {
		t.Errorf("v13 next fragment length %d", frameLen)
	}
}

func TestFragmentation_Errors(t *testing.T) {
	if _, _, err := protocol.PutFirstFragment(make([]byte, 5), protocol.NewestVersion, []byte("x"), 1, 1); !errors.Is(err, protocol.ErrBufferTooSmall) {
		t.Errorf("expected buffer too small, got %v", err)
	}
	if _, _, err := protocol.PutNextFragment(make([]byte, 32), protocol.NewestVersion, []byte("x"), 0); !errors.Is(err, protocol.ErrFragmentID) {
		t.Errorf("expected fragment id error, got %v", err)
	}
	if _, _, err := protocol.PutNextFragment(make([]byte, 32), protocol.ConnectionVersion11, []byte("x"), 300); !errors.Is(err, protocol.ErrFragmentID) {
		t.Errorf("expected fragment id error for one-byte ids, got %v", err)
	}
}
