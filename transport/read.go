// File: transport/read.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive path: socket bytes to complete messages.

package transport

import (
	"fmt"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/protocol"
)

// initialReassembly caps the up-front allocation for a fragmented message;
// larger messages grow as fragments arrive.
const initialReassembly = 1 << 20

// reassembly collects the fragments of one message.
type reassembly struct {
	total int
	data  []byte
}

// Read returns the next complete message. A nil message with a nil error
// means nothing was ready: args.ReadRetVal is ReadWouldBlock or ReadPing.
// When ReadRetVal is positive more messages are already buffered and Read
// should be called again without waiting for the socket.
//
// The returned slice stays valid until the next Read. Reassembled
// fragmented messages are owned by the caller.
func (c *Channel) Read(args *api.ReadArgs) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if args == nil {
		args = &api.ReadArgs{}
	}
	*args = api.ReadArgs{}
	if c.State() != api.ChannelActive {
		args.ReadRetVal = api.Failure
		return nil, c.inactiveErr()
	}
	if len(c.pending) == 0 && c.inflated != nil {
		c.scratch.Put(c.inflated)
		c.inflated = nil
	}

	for {
		if len(c.pending) > 0 {
			msg := c.pending[0]
			c.pending[0] = nil
			c.pending = c.pending[1:]
			args.Flags |= api.ReadFlagPacked
			c.setReadRetVal(args)
			return msg, nil
		}
		if c.in.HasFrame() {
			msg, done, err := c.consumeFrame(args)
			if err != nil {
				args.ReadRetVal = api.Failure
				return nil, c.failRead("malformed input", err)
			}
			if done {
				c.setReadRetVal(args)
				return msg, nil
			}
			continue
		}
		if n, ok := protocol.FrameLength(c.in.Bytes()); ok && n < protocol.HeaderLength {
			args.ReadRetVal = api.Failure
			return nil, c.failRead("malformed input", fmt.Errorf("%w: length %d", protocol.ErrMalformedFrame, n))
		}
		n, err := c.in.Fill(c.sock)
		if n > 0 {
			c.rt.metrics.BytesReceived.Add(float64(n))
		}
		if err != nil {
			if isWouldBlock(err) {
				args.ReadRetVal = api.ReadWouldBlock
				return nil, nil
			}
			args.ReadRetVal = api.Failure
			return nil, c.failRead("read from "+c.address(), err)
		}
	}
}

// consumeFrame takes one frame off the input buffer. done is false when
// the frame only advanced a fragmented message.
func (c *Channel) consumeFrame(args *api.ReadArgs) (msg []byte, done bool, err error) {
	f, err := c.in.Next(c.sess.version)
	if err != nil {
		return nil, false, err
	}
	c.ping.Received()
	args.BytesRead += f.Length
	c.rt.metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()

	switch f.Kind {
	case protocol.KindPing:
		c.pingReceived(args)
		return nil, true, nil

	case protocol.KindData, protocol.KindPacked:
		payload := f.Payload
		if f.Compressed() {
			if payload, err = c.inflate(payload); err != nil {
				return nil, false, err
			}
			args.Flags |= api.ReadFlagCompressed
			args.UncompressedBytesRead = protocol.HeaderLength + len(payload)
		}
		if f.Kind == protocol.KindData {
			return payload, true, nil
		}
		subs, err := protocol.UnpackAll(payload)
		if err != nil {
			return nil, false, err
		}
		if len(subs) == 0 {
			c.pingReceived(args)
			return nil, true, nil
		}
		c.pending = subs[1:]
		args.Flags |= api.ReadFlagPacked
		return subs[0], true, nil

	case protocol.KindFirstFragment:
		if _, busy := c.frags[f.FragmentID]; busy {
			return nil, false, fmt.Errorf("%w: fragment id %d restarted", protocol.ErrFragmentMismatch, f.FragmentID)
		}
		r := &reassembly{
			total: int(f.TotalLength),
			data:  make([]byte, 0, min(int(f.TotalLength), initialReassembly)),
		}
		c.frags[f.FragmentID] = r
		return c.addFragment(r, f, args)

	case protocol.KindNextFragment:
		r, ok := c.frags[f.FragmentID]
		if !ok {
			return nil, false, fmt.Errorf("%w: unknown fragment id %d", protocol.ErrFragmentMismatch, f.FragmentID)
		}
		return c.addFragment(r, f, args)
	}
	return nil, false, fmt.Errorf("%w: kind %s", protocol.ErrMalformedFrame, f.Kind)
}

func (c *Channel) addFragment(r *reassembly, f protocol.Frame, args *api.ReadArgs) ([]byte, bool, error) {
	if len(r.data)+len(f.Payload) > r.total {
		return nil, false, fmt.Errorf("%w: fragment id %d overruns %d bytes", protocol.ErrFragmentMismatch, f.FragmentID, r.total)
	}
	r.data = append(r.data, f.Payload...)
	if len(r.data) < r.total {
		return nil, false, nil
	}
	delete(c.frags, f.FragmentID)
	args.Flags |= api.ReadFlagFragment
	return r.data, true, nil
}

func (c *Channel) pingReceived(args *api.ReadArgs) {
	c.rt.metrics.PingsReceived.Inc()
	args.Flags |= api.ReadFlagPing
	args.ReadRetVal = api.ReadPing
}

// inflate decompresses a frame payload into the scratch buffer held until
// the following Read.
func (c *Channel) inflate(payload []byte) ([]byte, error) {
	if c.codec == nil {
		return nil, fmt.Errorf("%w: compressed frame without negotiated compression", protocol.ErrCompression)
	}
	out := c.scratch.Get()
	n, err := c.codec.Decompress(out, payload)
	if err != nil {
		c.scratch.Put(out)
		return nil, err
	}
	c.inflated = out
	return out[:n], nil
}

// setReadRetVal reports whether more messages can be read without the
// socket.
func (c *Channel) setReadRetVal(args *api.ReadArgs) {
	if args.ReadRetVal == api.ReadPing {
		return
	}
	if len(c.pending) > 0 || c.in.HasFrame() {
		args.ReadRetVal = api.ReturnCode(max(c.in.Buffered(), 1))
		return
	}
	args.ReadRetVal = api.Success
}

// failRead closes the channel from the read path.
func (c *Channel) failRead(text string, cause error) error {
	_, err := c.fail(api.Failure, text, cause)
	c.writeMu.Lock()
	c.reclaimWritesLocked()
	c.writeMu.Unlock()
	return err
}
