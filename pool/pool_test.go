// Package pool_test tests the slot arena and channel buffers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/momentics/hioload-ripc/pool"
	"github.com/momentics/hioload-ripc/protocol"
)

func newPool(t *testing.T, guaranteed, ceiling int, shared *pool.SlabPool) *pool.ChannelPool {
	t.Helper()
	cp, err := pool.NewChannelPool(pool.ChannelPoolConfig{
		MaxFragmentSize: 6144,
		Guaranteed:      guaranteed,
		Max:             ceiling,
		Shared:          shared,
		Version:         protocol.NewestVersion,
	})
	if err != nil {
		t.Fatalf("new channel pool: %v", err)
	}
	return cp
}

func TestSlabPool_ReuseAndLimit(t *testing.T) {
	sp := pool.NewSlabPool(128, 1, 2)
	a, bufA, ok := sp.Acquire()
	if !ok || len(bufA) != 128 {
		t.Fatalf("first acquire failed")
	}
	if _, _, ok := sp.Acquire(); !ok {
		t.Fatalf("second acquire failed")
	}
	if _, _, ok := sp.Acquire(); ok {
		t.Fatalf("acquire beyond limit succeeded")
	}
	sp.Release(a)
	c, bufC, ok := sp.Acquire()
	if !ok || c != a || len(bufC) != 128 {
		t.Errorf("released slot not reused: idx %d want %d", c, a)
	}
	st := sp.Stats()
	if st.InUse != 2 || st.Peak != 2 || st.Allocated != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.TotalAcquired != 3 || st.TotalReleased != 1 {
		t.Errorf("unexpected totals %+v", st)
	}
}

func TestSlabPool_DoubleReleasePanics(t *testing.T) {
	sp := pool.NewSlabPool(16, 1, 1)
	idx, _, _ := sp.Acquire()
	sp.Release(idx)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on double release")
		}
	}()
	sp.Release(idx)
}

func TestChannelPool_Conservation(t *testing.T) {
	const ceiling = 8
	cp := newPool(t, 4, ceiling, nil)
	rng := rand.New(rand.NewSource(1))
	var held []*pool.Buffer
	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 || len(held) == 0 {
			b, err := cp.Get(rng.Intn(6000), rng.Intn(2) == 0)
			if err != nil {
				if !errors.Is(err, pool.ErrNoBuffers) {
					t.Fatalf("unexpected error %v", err)
				}
				if len(held) != ceiling {
					t.Fatalf("no buffers with only %d held", len(held))
				}
				continue
			}
			held = append(held, b)
		} else {
			k := rng.Intn(len(held))
			cp.Release(held[k])
			held = append(held[:k], held[k+1:]...)
		}
		if cp.InUse() > ceiling {
			t.Fatalf("in use %d exceeds ceiling %d", cp.InUse(), ceiling)
		}
		if cp.InUse() != len(held) {
			t.Fatalf("in use %d, held %d", cp.InUse(), len(held))
		}
	}
	if cp.Peak() > ceiling {
		t.Errorf("peak %d exceeds ceiling", cp.Peak())
	}
}

func TestChannelPool_ExhaustionAndRecovery(t *testing.T) {
	cp := newPool(t, 2, 3, nil)
	var held []*pool.Buffer
	for i := 0; i < 3; i++ {
		b, err := cp.Get(100, false)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		held = append(held, b)
	}
	if _, err := cp.Get(100, false); !errors.Is(err, pool.ErrNoBuffers) {
		t.Fatalf("expected no buffers, got %v", err)
	}
	cp.Release(held[0])
	b, err := cp.Get(100, false)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if b.Capacity() != 6144 {
		t.Errorf("recycled buffer capacity %d", b.Capacity())
	}
}

func TestChannelPool_SharedPool(t *testing.T) {
	shared := pool.NewSlabPool(6144+protocol.HeaderLength, 0, 1)
	cp := newPool(t, 1, 5, shared)
	if _, err := cp.Get(10, false); err != nil {
		t.Fatal(err)
	}
	if _, err := cp.Get(10, false); err != nil {
		t.Fatalf("shared slot not used: %v", err)
	}
	if shared.InUse() != 1 {
		t.Errorf("shared in use %d", shared.InUse())
	}
	if _, err := cp.Get(10, false); !errors.Is(err, pool.ErrNoBuffers) {
		t.Errorf("expected exhaustion of shared pool, got %v", err)
	}
}

func TestBuffer_PackLayout(t *testing.T) {
	cp := newPool(t, 1, 1, nil)
	b, err := cp.Get(100, true)
	if err != nil {
		t.Fatal(err)
	}
	msgs := [][]byte{[]byte("one"), []byte("two!"), []byte("three")}
	for i, m := range msgs {
		if _, err := b.Write(m); err != nil {
			t.Fatal(err)
		}
		if i < len(msgs)-1 {
			if _, err := b.Pack(); err != nil {
				t.Fatal(err)
			}
		}
	}
	frame, err := b.Finish(0)
	if err != nil {
		t.Fatal(err)
	}
	f, err := protocol.ParseFrame(frame, protocol.NewestVersion)
	if err != nil {
		t.Fatal(err)
	}
	got, err := protocol.UnpackAll(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(msgs) || b.Packed() != len(msgs) {
		t.Fatalf("got %d sub-messages (packed %d), want %d", len(got), b.Packed(), len(msgs))
	}
	for i := range msgs {
		if !bytes.Equal(got[i], msgs[i]) {
			t.Errorf("sub-message %d: %q", i, got[i])
		}
	}
}

func TestBuffer_PackDropsEmptyTrailer(t *testing.T) {
	cp := newPool(t, 1, 1, nil)
	b, _ := cp.Get(10, true)
	b.Write([]byte("only"))
	if _, err := b.Pack(); err != nil {
		t.Fatal(err)
	}
	frame, err := b.Finish(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != protocol.HeaderLength+protocol.PackedHeaderLength+4 {
		t.Errorf("frame length %d", len(frame))
	}
}

func TestBuffer_NotPackable(t *testing.T) {
	cp := newPool(t, 1, 1, nil)
	b, _ := cp.Get(10, false)
	if _, err := b.Pack(); !errors.Is(err, pool.ErrNotPackable) {
		t.Errorf("expected not packable, got %v", err)
	}
	if err := b.SetLength(b.Capacity() + 1); !errors.Is(err, pool.ErrLengthRange) {
		t.Errorf("expected length range error, got %v", err)
	}
}

func TestBigBuffer_Fragments(t *testing.T) {
	cp := newPool(t, 2, 2, nil)
	big, err := cp.Get(20000, false)
	if err != nil {
		t.Fatal(err)
	}
	if !big.IsBig() || big.FragmentID() == 0 {
		t.Fatalf("expected big buffer with fragment id, got id %d", big.FragmentID())
	}
	payload := make([]byte, 20000)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := big.Write(payload); err != nil {
		t.Fatal(err)
	}

	var out []byte
	frames := 0
	for !big.FragmentsDone() {
		frag, frame, err := cp.EmitFragment(big)
		if err != nil {
			t.Fatalf("emit %d: %v", frames, err)
		}
		f, err := protocol.ParseFrame(frame, protocol.NewestVersion)
		if err != nil {
			t.Fatal(err)
		}
		if f.FragmentID != big.FragmentID() {
			t.Errorf("fragment id %d want %d", f.FragmentID, big.FragmentID())
		}
		out = append(out, f.Payload...)
		frames++
		cp.Release(frag)
	}
	if frames < 4 {
		t.Errorf("expected at least 4 fragments, got %d", frames)
	}
	if !bytes.Equal(out, payload) {
		t.Error("fragment payloads do not reassemble")
	}
	cp.Release(big)
	if cp.InUse() != 0 {
		t.Errorf("slots leaked: %d", cp.InUse())
	}
}

func TestBigBuffer_FragmentIDWraps(t *testing.T) {
	cp, err := pool.NewChannelPool(pool.ChannelPoolConfig{
		MaxFragmentSize: 64,
		Guaranteed:      1,
		Max:             1,
		Version:         protocol.ConnectionVersion11,
	})
	if err != nil {
		t.Fatal(err)
	}
	var last uint16
	for i := 0; i < 600; i++ {
		b, _ := cp.Get(100, false)
		id := b.FragmentID()
		if id == 0 {
			t.Fatalf("fragment id 0 handed out at step %d", i)
		}
		if last == 0xFF && id != 1 {
			t.Fatalf("id after 255 is %d", id)
		}
		if last != 0 && last != 0xFF && id != last+1 {
			t.Fatalf("id %d does not follow %d", id, last)
		}
		last = id
		cp.Release(b)
	}
}
