// File: pool/slab_pool.go
// Package pool implements a bounded slot arena.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
)

// SlabPool hands out fixed-size slots by index. Slots are allocated lazily
// up to the limit and never freed back to the runtime.
type SlabPool struct {
	mu    sync.Mutex
	size  int
	slots [][]byte
	used  []bool
	free  []int
	limit int
	inUse int
	peak  int

	totalAlloc atomic.Uint64
	totalFree  atomic.Uint64
}

// SlabStats is a point-in-time view of a SlabPool.
type SlabStats struct {
	SlotSize      int
	Allocated     int
	InUse         int
	Peak          int
	Limit         int
	TotalAcquired uint64
	TotalReleased uint64
}

// NewSlabPool creates an arena of slotSize slots with prealloc slots ready
// and at most limit slots overall.
func NewSlabPool(slotSize, prealloc, limit int) *SlabPool {
	if limit < prealloc {
		limit = prealloc
	}
	p := &SlabPool{size: slotSize, limit: limit}
	for i := 0; i < prealloc; i++ {
		p.grow()
	}
	return p
}

// grow appends a fresh slot to the free list. Caller holds mu or owns p.
func (p *SlabPool) grow() {
	p.slots = append(p.slots, make([]byte, p.size))
	p.used = append(p.used, false)
	p.free = append(p.free, len(p.slots)-1)
}

// SlotSize is the length of every slot.
func (p *SlabPool) SlotSize() int { return p.size }

// Acquire takes a slot, reusing a free one first. It reports false when the
// arena is at its limit.
func (p *SlabPool) Acquire() (int, []byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.limit {
		return -1, nil, false
	}
	if len(p.free) == 0 {
		if len(p.slots) >= p.limit {
			return -1, nil, false
		}
		p.grow()
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used[idx] = true
	p.inUse++
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
	p.totalAlloc.Add(1)
	return idx, p.slots[idx], true
}

// Release returns slot idx. Releasing a slot that is not in use panics.
func (p *SlabPool) Release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.slots) || !p.used[idx] {
		panic("pool: slot released twice or never acquired")
	}
	p.used[idx] = false
	p.free = append(p.free, idx)
	p.inUse--
	p.totalFree.Add(1)
}

// SetLimit changes the slot ceiling. Slots already handed out stay valid even
// when the new limit is below the current usage.
func (p *SlabPool) SetLimit(n int) {
	p.mu.Lock()
	if n < 0 {
		n = 0
	}
	p.limit = n
	p.mu.Unlock()
}

// Limit is the current slot ceiling.
func (p *SlabPool) Limit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}

// InUse is the number of slots handed out.
func (p *SlabPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// ResetPeak sets the peak counter to the current usage.
func (p *SlabPool) ResetPeak() {
	p.mu.Lock()
	p.peak = p.inUse
	p.mu.Unlock()
}

// Stats returns the current counters.
func (p *SlabPool) Stats() SlabStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SlabStats{
		SlotSize:      p.size,
		Allocated:     len(p.slots),
		InUse:         p.inUse,
		Peak:          p.peak,
		Limit:         p.limit,
		TotalAcquired: p.totalAlloc.Load(),
		TotalReleased: p.totalFree.Load(),
	}
}
