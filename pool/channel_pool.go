// File: pool/channel_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-channel output buffer accounting on top of SlabPool arenas.

package pool

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-ripc/protocol"
)

// ChannelPoolConfig sizes a ChannelPool.
type ChannelPoolConfig struct {
	// MaxFragmentSize is the largest payload of a normal frame.
	MaxFragmentSize int
	Guaranteed      int
	Max             int
	// Shared, when set, serves buffers beyond the guaranteed ones.
	Shared  *SlabPool
	Version protocol.ConnectionVersion
}

// ChannelPool hands out Buffers for one channel. Buffers beyond the
// guaranteed count come from the shared arena when there is one, otherwise
// from the channel's own arena up to Max.
type ChannelPool struct {
	mu         sync.Mutex
	own        *SlabPool
	shared     *SlabPool
	frameSize  int
	guaranteed int
	max        int
	inUse      int
	peak       int
	version    protocol.ConnectionVersion
	nextFragID uint16
}

// NewChannelPool preallocates the guaranteed buffers.
func NewChannelPool(cfg ChannelPoolConfig) (*ChannelPool, error) {
	if cfg.MaxFragmentSize <= 0 || cfg.MaxFragmentSize+protocol.HeaderLength > protocol.MaxFrameLength {
		return nil, fmt.Errorf("pool: max fragment size %d out of range", cfg.MaxFragmentSize)
	}
	if cfg.Guaranteed < 1 || cfg.Max < cfg.Guaranteed {
		return nil, fmt.Errorf("pool: invalid buffer counts guaranteed=%d max=%d", cfg.Guaranteed, cfg.Max)
	}
	frameSize := cfg.MaxFragmentSize + protocol.HeaderLength
	if cfg.Shared != nil && cfg.Shared.SlotSize() != frameSize {
		return nil, fmt.Errorf("pool: shared slot size %d does not match frame size %d", cfg.Shared.SlotSize(), frameSize)
	}
	ownLimit := cfg.Max
	if cfg.Shared != nil {
		ownLimit = cfg.Guaranteed
	}
	return &ChannelPool{
		own:        NewSlabPool(frameSize, cfg.Guaranteed, ownLimit),
		shared:     cfg.Shared,
		frameSize:  frameSize,
		guaranteed: cfg.Guaranteed,
		max:        cfg.Max,
		version:    cfg.Version,
	}, nil
}

// MaxFragmentSize is the largest payload a normal buffer carries.
func (c *ChannelPool) MaxFragmentSize() int { return c.frameSize - protocol.HeaderLength }

// Get returns a buffer able to hold size payload bytes. Requests larger than
// a frame get a big buffer that is sent as fragments; a packable request
// that no longer fits with its sub-header is treated the same way.
func (c *ChannelPool) Get(size int, packable bool) (*Buffer, error) {
	if size < 0 {
		return nil, ErrLengthRange
	}
	limit := c.MaxFragmentSize()
	if packable {
		limit -= protocol.PackedHeaderLength
	}
	if size > limit {
		return c.getBig(size), nil
	}
	b, err := c.acquire()
	if err != nil {
		return nil, err
	}
	if packable {
		b.packable = true
		b.pos = protocol.HeaderLength
		b.start = protocol.HeaderLength + protocol.PackedHeaderLength
	}
	return b, nil
}

func (c *ChannelPool) getBig(size int) *Buffer {
	c.mu.Lock()
	id := c.nextFragmentIDLocked()
	c.mu.Unlock()
	return &Buffer{
		owner: c,
		slot:  -1,
		data:  make([]byte, size),
		state: stateCheckedOut,
		big:   &bigState{id: id},
	}
}

// acquire takes one frame slot and wraps it as a normal buffer.
func (c *ChannelPool) acquire() (*Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse >= c.max {
		return nil, ErrNoBuffers
	}
	src := c.own
	idx, data, ok := src.Acquire()
	if !ok && c.shared != nil {
		src = c.shared
		idx, data, ok = src.Acquire()
	}
	if !ok {
		return nil, ErrNoBuffers
	}
	c.inUse++
	if c.inUse > c.peak {
		c.peak = c.inUse
	}
	return &Buffer{
		owner: c,
		src:   src,
		slot:  idx,
		data:  data,
		state: stateCheckedOut,
		start: protocol.HeaderLength,
	}, nil
}

// EmitFragment writes the next fragment of big into a fresh frame slot and
// returns that slot buffer together with the frame bytes.
func (c *ChannelPool) EmitFragment(big *Buffer) (*Buffer, []byte, error) {
	if big.big == nil || big.owner != c {
		return nil, nil, ErrBufferState
	}
	if big.state != stateCheckedOut {
		return nil, nil, ErrBufferState
	}
	frag, err := c.acquire()
	if err != nil {
		return nil, nil, err
	}
	n, err := big.emitFragment(frag.data, c.version)
	if err != nil {
		c.Release(frag)
		return nil, nil, err
	}
	return frag, frag.data[:n], nil
}

// MarkQueued hands b to the channel's write queue.
func (c *ChannelPool) MarkQueued(b *Buffer) {
	if b.owner != c || b.state != stateCheckedOut {
		panic("pool: queued buffer is not checked out from this pool")
	}
	b.state = stateQueued
}

// Release returns b to its arena. Releasing a buffer twice, or to a pool
// that does not own it, panics.
func (c *ChannelPool) Release(b *Buffer) {
	if b.owner != c {
		panic("pool: buffer released to a pool that does not own it")
	}
	if b.state == stateFree {
		panic("pool: buffer released twice")
	}
	b.state = stateFree
	if b.big != nil {
		b.data = nil
		return
	}
	b.src.Release(b.slot)
	b.data = nil
	c.mu.Lock()
	c.inUse--
	c.mu.Unlock()
}

// InUse is the number of frame slots held by the channel.
func (c *ChannelPool) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// Peak is the highest InUse observed.
func (c *ChannelPool) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// Guaranteed is the number of buffers reserved for the channel.
func (c *ChannelPool) Guaranteed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guaranteed
}

// Max is the channel's buffer ceiling.
func (c *ChannelPool) Max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

// SetMax changes the ceiling; it never drops below the guaranteed count.
func (c *ChannelPool) SetMax(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < c.guaranteed {
		n = c.guaranteed
	}
	c.max = n
	if c.shared == nil {
		c.own.SetLimit(n)
	}
	return n
}

// SetGuaranteed changes the reserved count, raising the ceiling if needed.
func (c *ChannelPool) SetGuaranteed(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 {
		n = 1
	}
	c.guaranteed = n
	if c.max < n {
		c.max = n
	}
	if c.shared == nil {
		c.own.SetLimit(c.max)
	} else {
		c.own.SetLimit(n)
	}
	return n
}

// nextFragmentIDLocked returns a fresh fragment id, wrapping to 1 and never
// returning 0.
func (c *ChannelPool) nextFragmentIDLocked() uint16 {
	maxID := c.version.MaxFragmentID()
	if !c.version.Valid() {
		maxID = protocol.NewestVersion.MaxFragmentID()
	}
	if c.nextFragID >= maxID {
		c.nextFragID = 0
	}
	c.nextFragID++
	return c.nextFragID
}
