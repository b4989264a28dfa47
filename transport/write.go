// File: transport/write.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Send path: framing, compression, fragmentation and flushing.

package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/pool"
	"github.com/momentics/hioload-ripc/protocol"
)

// Write frames the message in buf and queues it on the lane named by
// args.Priority. It returns the number of bytes still queued, or Success
// once everything reached the socket. A big buffer is sent one fragment
// per call: Write returns WriteCallAgain until the last fragment is
// queued. After a successful Write the buffer belongs to the channel.
func (c *Channel) Write(buf api.Buffer, args *api.WriteArgs) (api.ReturnCode, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if args == nil {
		args = &api.WriteArgs{Priority: api.PriorityMedium}
	}
	args.BytesWritten, args.UncompressedBytesWritten = 0, 0
	if c.State() != api.ChannelActive {
		return api.Failure, c.inactiveErr()
	}
	b, err := c.ownBuffer(buf)
	if err != nil {
		return api.InvalidArgument, err
	}
	if b.Queued() || b.Released() {
		return api.InvalidArgument, api.NewError(api.InvalidArgument, "buffer was already written or released")
	}
	if b.IsBig() {
		return c.writeFragment(b, args)
	}

	frame, err := b.Finish(0)
	if err != nil {
		code := bufferErrCode(err)
		return code, api.WrapError(code, "finish frame", err)
	}
	kind := protocol.KindData
	if b.IsPackable() {
		kind = protocol.KindPacked
	}
	args.UncompressedBytesWritten = len(frame)
	if args.Flags&api.WriteDoNotCompress == 0 {
		frame = c.compress(frame)
	}
	args.BytesWritten = len(frame)
	c.pool.MarkQueued(b)
	return c.enqueue(&outFrame{buf: b, frame: frame, kind: kind.String()}, args)
}

// bufferErrCode maps a framing error on a caller's buffer to its code.
func bufferErrCode(err error) api.ReturnCode {
	if errors.Is(err, protocol.ErrBufferTooSmall) {
		return api.BufferTooSmall
	}
	return api.InvalidArgument
}

// compress replaces the payload of frame with its compressed form when
// that is smaller. The frame shrinks in place.
func (c *Channel) compress(frame []byte) []byte {
	payload := frame[protocol.HeaderLength:]
	if c.codec == nil || len(payload) < c.threshold || len(payload) == 0 {
		return frame
	}
	tmp := c.scratch.Get()
	defer c.scratch.Put(tmp)
	n, err := c.codec.Compress(tmp, payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("compression skipped")
		return frame
	}
	if n == 0 {
		return frame
	}
	copy(payload, tmp[:n])
	if err := protocol.PutHeader(frame, protocol.HeaderLength+n, frame[2]|protocol.FlagCompressed); err != nil {
		return frame
	}
	return frame[:protocol.HeaderLength+n]
}

// writeFragment queues the next fragment of a big buffer.
func (c *Channel) writeFragment(b *pool.Buffer, args *api.WriteArgs) (api.ReturnCode, error) {
	frag, frame, err := c.pool.EmitFragment(b)
	switch {
	case errors.Is(err, pool.ErrNoBuffers):
		b.SetWritePaused(true)
		if err := c.flushLocked(); err != nil {
			return c.failWrite(api.WriteFlushFailed, "flush", err)
		}
		return api.NoBuffers, api.WrapError(api.NoBuffers, "no output buffer for the next fragment", err)
	case errors.Is(err, pool.ErrFragmentsDone):
		return api.InvalidArgument, api.WrapError(api.InvalidArgument, "big buffer has nothing left to send", err)
	case err != nil:
		return api.InvalidArgument, api.WrapError(api.InvalidArgument, "emit fragment", err)
	}
	b.SetWritePaused(false)
	c.rt.metrics.BuffersInUse.Inc()
	c.pool.MarkQueued(frag)
	args.BytesWritten = len(frame)
	args.UncompressedBytesWritten = len(frame)

	code, err := c.enqueue(&outFrame{buf: frag, frame: frame, kind: "fragment"}, args)
	if err != nil {
		return code, err
	}
	if !b.FragmentsDone() {
		return api.WriteCallAgain, nil
	}
	c.releaseSlot(b)
	return code, nil
}

// enqueue puts f on its lane and flushes when asked to or when the
// high-water mark is reached.
func (c *Channel) enqueue(f *outFrame, args *api.WriteArgs) (api.ReturnCode, error) {
	wasEmpty := c.wq.empty()
	c.wq.push(args.Priority, f)
	c.ping.Sent()
	direct := args.Flags&api.WriteDirectSocketWrite != 0
	if (direct && wasEmpty) || c.wq.queued() >= c.hwm {
		if err := c.flushLocked(); err != nil {
			return c.failWrite(api.WriteFlushFailed, "flush", err)
		}
	}
	return c.queuedCode(), nil
}

func (c *Channel) queuedCode() api.ReturnCode {
	if q := c.wq.queued(); q > 0 {
		return api.ReturnCode(q)
	}
	return api.Success
}

// Flush writes queued frames until the socket would block. It returns the
// number of bytes still queued, or Success.
func (c *Channel) Flush() (api.ReturnCode, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return api.Failure, c.inactiveErr()
	}
	if err := c.flushLocked(); err != nil {
		return c.failWrite(api.Failure, "flush", err)
	}
	return c.queuedCode(), nil
}

// flushLocked drains the queue; would-block is not an error.
func (c *Channel) flushLocked() error {
	err := c.wq.flush(c.sock.Write, c.frameSent)
	if err == nil || isWouldBlock(err) {
		return nil
	}
	return err
}

// frameSent accounts a frame that fully reached the socket and frees its
// slot.
func (c *Channel) frameSent(f *outFrame) {
	c.rt.metrics.FramesSent.WithLabelValues(f.kind).Inc()
	c.rt.metrics.BytesSent.Add(float64(len(f.frame)))
	if f.buf == nil {
		c.rt.metrics.PingsSent.Inc()
		return
	}
	c.releaseSlot(f.buf)
}

// Ping sends a heartbeat unless data is already queued, in which case the
// queued data is flushed instead.
func (c *Channel) Ping() (api.ReturnCode, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return api.Failure, c.inactiveErr()
	}
	return c.pingLocked()
}

func (c *Channel) pingLocked() (api.ReturnCode, error) {
	if c.wq.empty() {
		frame := protocol.PingFrame
		c.wq.push(api.PriorityHigh, &outFrame{frame: frame[:], kind: protocol.KindPing.String()})
	}
	if err := c.flushLocked(); err != nil {
		return c.failWrite(api.Failure, "ping", err)
	}
	return c.queuedCode(), nil
}

// CheckPings advances the heartbeat schedule to now. It sends a heartbeat
// or flushes when one is due and closes the channel with PeerUnresponsive
// when the peer stayed silent for a whole ping timeout.
func (c *Channel) CheckPings(now time.Time) (api.ReturnCode, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != api.ChannelActive {
		return api.Failure, c.inactiveErr()
	}
	sendDue, timedOut := c.ping.Tick(now)
	if timedOut {
		c.rt.metrics.PeerTimeouts.Inc()
		return c.failWrite(api.PeerUnresponsive, "peer unresponsive",
			fmt.Errorf("nothing received within %s", c.ping.Timeout()))
	}
	if !sendDue {
		return api.Success, nil
	}
	return c.pingLocked()
}
