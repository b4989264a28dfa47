// File: transport/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel: one RIPC connection, its state machine and buffer bookkeeping.
// The read path lives in read.go, the write path in write.go and the
// handshake in handshake.go.

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oxtoacart/bpool"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/pool"
	"github.com/momentics/hioload-ripc/protocol"
)

type role uint8

const (
	roleClient role = iota
	roleServer
)

// optLock is a mutex that only locks when global locking is enabled.
type optLock struct {
	on bool
	mu sync.Mutex
}

func (l *optLock) Lock() {
	if l.on {
		l.mu.Lock()
	}
}

func (l *optLock) Unlock() {
	if l.on {
		l.mu.Unlock()
	}
}

// session holds the parameters fixed by the handshake.
type session struct {
	version         protocol.ConnectionVersion
	maxFragmentSize int
	pingTimeout     time.Duration
	major, minor    uint8
	compression     protocol.CompressionType
	level           int
	peerComponent   string
	sharedKey       []byte
}

// Channel is a single connection. Its methods are meant to be driven by
// one goroutine; with InitArgs.GlobalLocking the read side and the write
// side may each be driven by a different goroutine.
type Channel struct {
	rt      *Runtime
	id      string
	role    role
	baseLog zerolog.Logger
	log     zerolog.Logger
	now     func() time.Time

	connOpts   api.ConnectOptions
	bindOpts   api.BindOptions
	acceptOpts api.AcceptOptions
	srv        *Server

	state atomic.Int32

	// handshake
	hs      hsState
	proto   protocol.Protocol
	sock    *socket
	dialCh  chan dialResult
	cancel  context.CancelFunc
	oldFD   int
	hsOut   []byte
	hsOff   int
	keys    *protocol.KeyPair
	nakText string
	sess    session

	// read side
	in       *protocol.InputBuffer
	pending  [][]byte
	frags    map[uint16]*reassembly
	inflated []byte

	// write side
	pool      *pool.ChannelPool
	wq        *writeQueue
	codec     protocol.Codec
	scratch   *bpool.BytePool
	threshold int
	hwm       int
	ping      *PingMonitor

	info api.ChannelInfo

	readMu  optLock
	writeMu optLock
}

func newChannel(rt *Runtime, r role) *Channel {
	c := &Channel{
		rt:    rt,
		id:    uuid.NewString(),
		role:  r,
		now:   time.Now,
		oldFD: -1,
	}
	c.readMu.on = rt.args.GlobalLocking
	c.writeMu.on = rt.args.GlobalLocking
	side := "client"
	if r == roleServer {
		side = "server"
	}
	c.baseLog = rt.log.With().Str("channel", c.id).Str("side", side).Logger()
	c.log = c.baseLog
	c.setState(api.ChannelInitializing)
	return c
}

// ID identifies the channel in logs and debug probes.
func (c *Channel) ID() string { return c.id }

// State is the current lifecycle state.
func (c *Channel) State() api.ChannelState { return api.ChannelState(c.state.Load()) }

func (c *Channel) setState(s api.ChannelState) { c.state.Store(int32(s)) }

// Socket is the descriptor to watch for readiness, -1 while no connection
// is established.
func (c *Channel) Socket() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.sock == nil || c.State() == api.ChannelClosed {
		return -1
	}
	return c.sock.fd
}

// BufferUsage is the number of output frame slots held by the channel,
// whether checked out by the caller or queued for writing.
func (c *Channel) BufferUsage() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.pool == nil {
		return 0
	}
	return c.pool.InUse()
}

func (c *Channel) blocking() bool {
	if c.role == roleServer {
		return c.bindOpts.Blocking
	}
	return c.connOpts.Blocking
}

func (c *Channel) inactiveErr() error {
	if c.State() == api.ChannelClosed {
		return api.NewError(api.Failure, "channel is closed")
	}
	return api.NewError(api.Failure, "channel is not active")
}

// GetBuffer returns write space for a message of size bytes. Messages
// larger than the negotiated fragment size get a big buffer. An exhausted
// pool yields NoBuffers: flush and try once more.
func (c *Channel) GetBuffer(size int, packable bool) (*pool.Buffer, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return nil, c.inactiveErr()
	}
	b, err := c.pool.Get(size, packable)
	if err != nil {
		if errors.Is(err, pool.ErrNoBuffers) {
			return nil, api.WrapError(api.NoBuffers, "no output buffers available", err)
		}
		return nil, api.WrapError(api.InvalidArgument, "get buffer", err)
	}
	if !b.IsBig() {
		c.rt.metrics.BuffersInUse.Inc()
	}
	return b, nil
}

// ReleaseBuffer returns a buffer the caller no longer intends to write.
// Buffers handed to a successful Write belong to the channel. After the
// channel closed, releasing a buffer it already reclaimed is a no-op.
func (c *Channel) ReleaseBuffer(buf api.Buffer) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	b, err := c.ownBuffer(buf)
	if err != nil {
		return err
	}
	if c.State() == api.ChannelClosed {
		c.reclaimWritesLocked()
		if b.Released() {
			return nil
		}
	}
	if b.Queued() {
		panic("transport: releasing a buffer that is queued for writing")
	}
	c.releaseSlot(b)
	return nil
}

// PackBuffer seals the current message of a packable buffer and returns
// the room left for the next one.
func (c *Channel) PackBuffer(buf api.Buffer) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return 0, c.inactiveErr()
	}
	b, err := c.ownBuffer(buf)
	if err != nil {
		return 0, err
	}
	n, err := b.Pack()
	if err != nil {
		return 0, api.WrapError(bufferErrCode(err), "pack buffer", err)
	}
	return n, nil
}

func (c *Channel) ownBuffer(buf api.Buffer) (*pool.Buffer, error) {
	b, ok := buf.(*pool.Buffer)
	if !ok || b == nil {
		return nil, api.NewError(api.InvalidArgument, "buffer was not obtained from a channel")
	}
	if c.pool == nil || b.Owner() != c.pool {
		return nil, api.NewError(api.InvalidArgument, "buffer belongs to another channel")
	}
	return b, nil
}

// releaseSlot returns b to the pool and keeps the gauge in step.
func (c *Channel) releaseSlot(b *pool.Buffer) {
	big := b.IsBig()
	c.pool.Release(b)
	if !big {
		c.rt.metrics.BuffersInUse.Dec()
	}
}

// Info reports the negotiated parameters and current usage.
func (c *Channel) Info() (api.ChannelInfo, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return api.ChannelInfo{}, c.inactiveErr()
	}
	return c.infoLocked(), nil
}

func (c *Channel) infoLocked() api.ChannelInfo {
	info := c.info
	info.MaxOutputBuffers = c.pool.Max()
	info.GuaranteedOutputBuffers = c.pool.Guaranteed()
	info.BuffersInUse = c.pool.InUse()
	info.PeakBuffersInUse = c.pool.Peak()
	info.QueuedBytes = c.wq.queued()
	info.HighWaterMark = c.hwm
	info.PriorityFlushOrder = c.wq.orderString()
	info.CompressionThreshold = c.threshold
	if c.info.SharedKey != nil {
		info.SharedKey = append([]byte(nil), c.info.SharedKey...)
	}
	return info
}

// IOCtl changes a runtime option of an active channel. Numeric options
// take an int; PriorityFlushOrder takes a string of H, M and L.
func (c *Channel) IOCtl(code api.IOCtlCode, value any) (api.ReturnCode, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return api.Failure, c.inactiveErr()
	}
	invalid := func(format string, args ...any) (api.ReturnCode, error) {
		return api.InvalidArgument, api.NewError(api.InvalidArgument, fmt.Sprintf("ioctl %s: ", code)+fmt.Sprintf(format, args...))
	}

	if code == api.IOCtlPriorityFlushOrder {
		s, ok := value.(string)
		if !ok {
			return invalid("want string, got %T", value)
		}
		if err := c.wq.setOrder(s); err != nil {
			return invalid("%v", err)
		}
		return api.Success, nil
	}

	n, ok := intValue(value)
	if !ok {
		return invalid("want integer, got %T", value)
	}
	switch code {
	case api.IOCtlMaxNumBuffers:
		if n < 1 {
			return invalid("must be positive")
		}
		c.pool.SetMax(n)
	case api.IOCtlNumGuaranteedBuffers:
		if n < 1 {
			return invalid("must be positive")
		}
		c.pool.SetGuaranteed(n)
	case api.IOCtlHighWaterMark:
		if n < 1 {
			return invalid("must be positive")
		}
		c.hwm = n
	case api.IOCtlSystemReadBuffers, api.IOCtlSystemWriteBuffers:
		if n < 1 {
			return invalid("must be positive")
		}
		snd, rcv := 0, n
		if code == api.IOCtlSystemWriteBuffers {
			snd, rcv = n, 0
		}
		if err := c.sock.setSysBuffers(snd, rcv); err != nil {
			return api.Failure, api.WrapError(api.Failure, "ioctl "+code.String(), err)
		}
		c.info.SysSendBufSize, c.info.SysRecvBufSize = c.sock.sysBuffers()
	case api.IOCtlCompressionThreshold:
		if floor := c.info.CompressionType.DefaultThreshold(); n < floor {
			return invalid("threshold %d below minimum %d", n, floor)
		}
		c.threshold = n
	case api.IOCtlServerNumPoolBuffers, api.IOCtlServerPeakReset:
		return invalid("server option used on a channel")
	default:
		return invalid("unknown code")
	}
	return api.Success, nil
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint:
		return int(n), true
	}
	return 0, false
}

// Close shuts the channel down and reclaims every queued buffer. Closing
// twice is harmless.
func (c *Channel) Close() (api.ReturnCode, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.shutdown("closed by caller")
	c.reclaimWritesLocked()
	if c.inflated != nil {
		c.scratch.Put(c.inflated)
		c.inflated = nil
	}
	c.pending = nil
	c.frags = nil
	return api.Success, nil
}

// shutdown moves the channel to Closed and drops the connection. It only
// touches state shared by both paths, so either path may call it.
func (c *Channel) shutdown(reason string) {
	prev := api.ChannelState(c.state.Swap(int32(api.ChannelClosed)))
	if prev == api.ChannelClosed {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.dialCh != nil {
		go discardDial(c.dialCh)
		c.dialCh = nil
	}
	if c.sock != nil {
		_ = c.sock.Close()
	}
	if prev == api.ChannelActive {
		c.rt.metrics.ChannelsActive.Dec()
	}
	c.rt.probes.UnregisterProbe(c.probeName())
	c.log.Info().Str("reason", reason).Str("was", prev.String()).Msg("channel closed")
}

// reclaimWritesLocked returns queued frames to the pool. The write lock
// must be held.
func (c *Channel) reclaimWritesLocked() {
	if c.wq == nil {
		return
	}
	c.wq.drain(func(f *outFrame) {
		if f.buf != nil {
			c.releaseSlot(f.buf)
		}
	})
}

// fail closes the channel after an unrecoverable error.
func (c *Channel) fail(code api.ReturnCode, text string, cause error) (api.ReturnCode, error) {
	err := api.WrapError(code, text, cause)
	c.log.Error().Err(err).Msg("channel failure")
	c.shutdown(text)
	return code, err
}

// failWrite is fail for callers holding the write lock.
func (c *Channel) failWrite(code api.ReturnCode, text string, cause error) (api.ReturnCode, error) {
	code, err := c.fail(code, text, cause)
	c.reclaimWritesLocked()
	return code, err
}

func (c *Channel) probeName() string { return "channel/" + c.id }

// probe snapshots the channel for Runtime.DumpState.
func (c *Channel) probe() any {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return map[string]any{"state": c.State().String()}
	}
	info := c.infoLocked()
	info.SharedKey = nil
	return map[string]any{
		"state":  c.State().String(),
		"info":   info,
		"frames": c.wq.lanes[0].Length() + c.wq.lanes[1].Length() + c.wq.lanes[2].Length(),
	}
}
