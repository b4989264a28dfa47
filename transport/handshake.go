// File: transport/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection establishment: dial, optional TLS, the ConnectReq/Ack/Nak
// exchange and version rollback.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/oxtoacart/bpool"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/pool"
	"github.com/momentics/hioload-ripc/protocol"
)

type hsState uint8

const (
	// hsConnecting waits for the background dial or TLS handshake.
	hsConnecting hsState = iota
	hsSendRequest
	hsWaitAck
	hsWaitRequest
	hsSendReply
	hsDone
)

type dialResult struct {
	sock *socket
	err  error
}

// Init drives the handshake. Non-blocking channels return InitInProgress
// until the handshake completes; info reports a descriptor change when the
// channel had to reconnect.
func (c *Channel) Init(info *api.InProgInfo) (api.ReturnCode, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if info != nil {
		*info = api.InProgInfo{OldSocket: -1, NewSocket: -1}
	}
	switch c.State() {
	case api.ChannelActive:
		return api.Success, nil
	case api.ChannelClosed:
		return api.Failure, c.inactiveErr()
	}

	for {
		switch c.hs {
		case hsConnecting:
			res, ok := c.pollConnect()
			if !ok {
				return api.InitInProgress, nil
			}
			if res.err != nil {
				return c.fail(api.Failure, "connect to "+c.address(), res.err)
			}
			c.attach(res.sock, info)
			if c.role == roleServer {
				c.hs = hsWaitRequest
				continue
			}
			if err := c.prepareRequest(); err != nil {
				return c.fail(api.Failure, "build connect request", err)
			}

		case hsSendRequest, hsSendReply:
			done, err := c.writeHandshake()
			if err != nil {
				if c.hs == hsSendRequest && peerGone(err) {
					if err := c.rollback("connection lost while sending request"); err != nil {
						return api.Failure, err
					}
					if !c.blocking() {
						return api.InitInProgress, nil
					}
					continue
				}
				return c.fail(api.Failure, "send handshake", err)
			}
			if !done {
				return api.InitInProgress, nil
			}
			if c.hs == hsSendRequest {
				c.hs = hsWaitAck
				continue
			}
			if c.nakText != "" {
				c.shutdown("connection rejected: " + c.nakText)
				return api.InitRefused, api.NewError(api.InitRefused, "connection rejected: "+c.nakText)
			}
			return c.activate()

		case hsWaitAck:
			msg, err := c.readHandshake()
			if isWouldBlock(err) {
				return api.InitInProgress, nil
			}
			if err != nil {
				if peerGone(err) {
					if err := c.rollback("connection closed before acknowledgement"); err != nil {
						return api.Failure, err
					}
					if !c.blocking() {
						return api.InitInProgress, nil
					}
					continue
				}
				return c.fail(api.Failure, "read connect acknowledgement", err)
			}
			op, _ := protocol.Opcode(msg)
			switch op {
			case protocol.OpConnectAck:
				ack, err := protocol.DecodeConnectAck(msg)
				if err != nil {
					return c.fail(api.Failure, "decode connect acknowledgement", err)
				}
				return c.completeClient(ack)
			case protocol.OpConnectNak:
				nak, err := protocol.DecodeConnectNak(msg)
				if err != nil {
					return c.fail(api.Failure, "decode connect rejection", err)
				}
				c.nakText = nak.Text
				if err := c.rollback("rejected: " + nak.Text); err != nil {
					return api.Failure, err
				}
				if !c.blocking() {
					return api.InitInProgress, nil
				}
			default:
				return c.fail(api.Failure, "read connect acknowledgement",
					fmt.Errorf("%w: 0x%02x", protocol.ErrUnexpectedOpcode, op))
			}

		case hsWaitRequest:
			msg, err := c.readHandshake()
			if isWouldBlock(err) {
				return api.InitInProgress, nil
			}
			if err != nil {
				return c.fail(api.Failure, "read connect request", err)
			}
			req, err := protocol.DecodeConnectReq(msg)
			if err != nil {
				return c.fail(api.Failure, "decode connect request", err)
			}
			if err := c.answer(req); err != nil {
				return c.fail(api.Failure, "build connect reply", err)
			}

		case hsDone:
			return api.Success, nil
		}
	}
}

func (c *Channel) address() string {
	if c.role == roleServer && c.sock != nil {
		return c.sock.remote()
	}
	return c.connOpts.Address
}

// peerGone reports errors meaning the peer hung up.
func peerGone(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// startDial connects in the background; pollConnect collects the result.
func (c *Channel) startDial() {
	timeout := c.connOpts.ConnectTimeout
	if timeout <= 0 {
		timeout = api.DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ch := make(chan dialResult, 1)
	c.cancel, c.dialCh = cancel, ch
	c.hs = hsConnecting
	opts := c.connOpts
	go func() {
		s, err := dialSocket(ctx, opts)
		if err == nil && ctx.Err() != nil {
			_ = s.Close()
			s, err = nil, ctx.Err()
		}
		ch <- dialResult{sock: s, err: err}
	}()
}

func dialSocket(ctx context.Context, o api.ConnectOptions) (*socket, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", o.Address)
	if err != nil {
		return nil, err
	}
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		_ = nc.Close()
		return nil, fmt.Errorf("transport: %s is not a tcp address", o.Address)
	}
	s, err := newSocket(tc, o.Blocking)
	if err != nil {
		_ = tc.Close()
		return nil, err
	}
	if err := s.setNoDelay(o.TCPNoDelay); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.setSysBuffers(o.SysSendBufSize, o.SysRecvBufSize); err != nil {
		_ = s.Close()
		return nil, err
	}
	if o.ConnectionType == api.ConnectionEncrypted {
		cfg := o.TLS.Clone()
		if cfg.ServerName == "" {
			if host, _, err := net.SplitHostPort(o.Address); err == nil {
				cfg.ServerName = host
			}
		}
		s.wrapClientTLS(cfg)
		if err := s.tls.HandshakeContext(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// startServerTLS runs the TLS server handshake of an accepted socket in the
// background.
func (c *Channel) startServerTLS(s *socket) {
	ctx, cancel := context.WithTimeout(context.Background(), api.DefaultConnectTimeout)
	ch := make(chan dialResult, 1)
	c.cancel, c.dialCh = cancel, ch
	c.hs = hsConnecting
	go func() {
		err := s.tls.HandshakeContext(ctx)
		if err != nil {
			_ = s.Close()
			ch <- dialResult{err: err}
			return
		}
		ch <- dialResult{sock: s}
	}()
}

// pollConnect reports the background result, waiting for it only on
// blocking channels.
func (c *Channel) pollConnect() (dialResult, bool) {
	if c.blocking() {
		res := <-c.dialCh
		c.dialCh = nil
		return res, true
	}
	select {
	case res := <-c.dialCh:
		c.dialCh = nil
		return res, true
	default:
		return dialResult{}, false
	}
}

// discardDial closes the socket of a dial nobody will collect. The dial
// goroutine sends exactly once, and promptly once its context is done.
func discardDial(ch <-chan dialResult) {
	if res := <-ch; res.sock != nil {
		_ = res.sock.Close()
	}
}

// attach installs a freshly connected socket and reports the descriptor
// change to the caller.
func (c *Channel) attach(s *socket, info *api.InProgInfo) {
	c.cancel()
	c.cancel, c.dialCh = nil, nil
	c.sock = s
	if c.role == roleServer {
		return
	}
	if info != nil {
		info.Flags |= api.InProgSocketChange
		info.OldSocket = c.oldFD
		info.NewSocket = s.fd
	}
	c.log.Debug().Int("old_fd", c.oldFD).Int("new_fd", s.fd).Str("protocol", c.proto.String()).Msg("socket connected")
}

// prepareRequest encodes the ConnectReq for the current candidate.
func (c *Channel) prepareRequest() error {
	o := c.connOpts
	req := &protocol.ConnectReq{
		Version:          c.proto.Version,
		PingTimeout:      uint8(o.PingTimeout / time.Second),
		ProtocolType:     o.ProtocolType,
		MajorVersion:     o.MajorVersion,
		MinorVersion:     o.MinorVersion,
		ComponentVersion: o.ComponentVersion,
	}
	if o.CompressionType != protocol.CompressionNone {
		req.CompressionMask = o.CompressionType.Bit()
	}
	c.keys = nil
	if c.proto.KeyExchange {
		kp, err := protocol.GenerateKeyPair()
		if err != nil {
			return err
		}
		c.keys = kp
		req.PublicKey = kp.Public
	}
	out, err := req.Encode()
	if err != nil {
		return err
	}
	c.hsOut, c.hsOff = out, 0
	c.in = protocol.NewInputBuffer(protocol.MaxHandshakeLength)
	c.hs = hsSendRequest
	return nil
}

// rollback moves to the next older candidate after a rejection. The error
// is terminal: no candidate is left and the channel is closed.
func (c *Channel) rollback(reason string) error {
	next, ok := protocol.NextProtocol(c.proto, c.connOpts.ConnectionVersion, c.connOpts.WireFormat)
	if !ok {
		var cause error
		if c.nakText != "" {
			cause = errors.New(c.nakText)
		}
		_, err := c.fail(api.Failure, "no connection version accepted by "+c.connOpts.Address, cause)
		return err
	}
	if !c.connOpts.KeyExchange {
		next.KeyExchange = false
	}
	c.log.Warn().Str("reason", reason).Str("from", c.proto.String()).Str("to", next.String()).Msg("handshake rollback")
	c.rt.metrics.HandshakeRollbacks.Inc()

	c.oldFD = c.sock.fd
	_ = c.sock.Close()
	c.sock = nil
	c.keys = nil
	c.proto = next
	c.startDial()
	return nil
}

// writeHandshake pushes the pending handshake message.
func (c *Channel) writeHandshake() (bool, error) {
	for c.hsOff < len(c.hsOut) {
		n, err := c.sock.Write(c.hsOut[c.hsOff:])
		c.hsOff += n
		if err != nil {
			if isWouldBlock(err) {
				return false, nil
			}
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// readHandshake returns one complete handshake message or errWouldBlock.
func (c *Channel) readHandshake() ([]byte, error) {
	for {
		if n, ok := protocol.FrameLength(c.in.Bytes()); ok && n > protocol.MaxHandshakeLength {
			return nil, fmt.Errorf("%w: %d bytes", protocol.ErrMalformedHandshake, n)
		}
		msg, err := c.in.NextMessage()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, protocol.ErrIncompleteFrame) {
			return nil, err
		}
		if _, err := c.in.Fill(c.sock); err != nil {
			return nil, err
		}
	}
}

// answer decides the server's reply and encodes it.
func (c *Channel) answer(req *protocol.ConnectReq) error {
	o := c.bindOpts
	ceiling := o.MaxConnectionVersion
	if !ceiling.Valid() {
		ceiling = protocol.NewestVersion
	}

	var reject string
	switch {
	case c.acceptOpts.NakMount:
		reject = "connection refused by server"
	case !req.Version.Valid() || req.Version > ceiling:
		reject = fmt.Sprintf("unsupported connection version %d", uint32(req.Version))
	case req.ProtocolType != o.ProtocolType:
		reject = fmt.Sprintf("protocol type %d not served", req.ProtocolType)
	}
	if reject != "" {
		c.log.Info().Str("reason", reject).Str("version", req.Version.String()).Msg("rejecting connection")
		out, err := (&protocol.ConnectNak{Text: reject}).Encode()
		if err != nil {
			return err
		}
		c.nakText = reject
		c.hsOut, c.hsOff = out, 0
		c.hs = hsSendReply
		return nil
	}

	ping := o.PingTimeout
	if client := time.Duration(req.PingTimeout) * time.Second; client > 0 && client < ping {
		ping = client
	}
	if ping < o.MinPingTimeout {
		ping = o.MinPingTimeout
	}
	comp := protocol.CompressionNone
	if o.CompressionType != protocol.CompressionNone &&
		(req.CompressionMask&o.CompressionType.Bit() != 0 || o.ForceCompression) {
		comp = o.CompressionType
	}
	ack := &protocol.ConnectAck{
		Version:          req.Version,
		MaxFragmentSize:  uint16(o.MaxFragmentSize),
		PingTimeout:      uint8(ping / time.Second),
		MajorVersion:     o.MajorVersion,
		MinorVersion:     min(o.MinorVersion, req.MinorVersion),
		CompressionType:  comp,
		CompressionLevel: uint8(o.CompressionLevel),
		ComponentVersion: o.ComponentVersion,
	}
	c.sess = session{
		version:         req.Version,
		maxFragmentSize: o.MaxFragmentSize,
		pingTimeout:     ping,
		major:           ack.MajorVersion,
		minor:           ack.MinorVersion,
		compression:     comp,
		level:           o.CompressionLevel,
		peerComponent:   req.ComponentVersion,
	}
	if req.Version.OffersKeyExchange() && len(req.PublicKey) > 0 {
		kp, err := protocol.GenerateKeyPair()
		if err != nil {
			return err
		}
		key, err := kp.DeriveSharedKey(req.PublicKey)
		if err != nil {
			return err
		}
		ack.PublicKey = kp.Public
		c.sess.sharedKey = key
	}
	out, err := ack.Encode()
	if err != nil {
		return err
	}
	c.hsOut, c.hsOff = out, 0
	c.hs = hsSendReply
	return nil
}

// completeClient checks the server's acknowledgement and activates.
func (c *Channel) completeClient(ack *protocol.ConnectAck) (api.ReturnCode, error) {
	if ack.Version != c.proto.Version {
		return c.fail(api.Failure, "connect acknowledgement",
			fmt.Errorf("%w: asked %s, got %d", protocol.ErrUnsupportedVersion, c.proto.Version, uint32(ack.Version)))
	}
	mfs := int(ack.MaxFragmentSize)
	if mfs < api.MinFragmentSize || mfs > protocol.MaxFrameLength-protocol.HeaderLength {
		return c.fail(api.Failure, "connect acknowledgement", fmt.Errorf("max fragment size %d out of range", mfs))
	}
	if !ack.CompressionType.Valid() {
		return c.fail(api.Failure, "connect acknowledgement", fmt.Errorf("unknown compression type %d", ack.CompressionType))
	}
	c.sess = session{
		version:         ack.Version,
		maxFragmentSize: mfs,
		pingTimeout:     time.Duration(ack.PingTimeout) * time.Second,
		major:           ack.MajorVersion,
		minor:           ack.MinorVersion,
		compression:     ack.CompressionType,
		level:           int(ack.CompressionLevel),
		peerComponent:   ack.ComponentVersion,
	}
	if c.keys != nil && ack.PublicKey != nil {
		key, err := c.keys.DeriveSharedKey(ack.PublicKey)
		if err != nil {
			return c.fail(api.Failure, "key exchange", err)
		}
		c.sess.sharedKey = key
	}
	c.keys = nil
	c.nakText = ""
	return c.activate()
}

// activate builds the data path for the negotiated session and moves the
// channel to Active.
func (c *Channel) activate() (api.ReturnCode, error) {
	s := c.sess
	var guaranteed, ceiling, numIn int
	var shared *pool.SlabPool
	var connType api.ConnectionType
	if c.role == roleServer {
		guaranteed, ceiling, numIn = c.bindOpts.GuaranteedOutputBuffers, c.bindOpts.MaxOutputBuffers, c.bindOpts.NumInputBuffers
		shared = c.srv.sharedPool()
		connType = c.bindOpts.ConnectionType
	} else {
		guaranteed, ceiling, numIn = c.connOpts.GuaranteedOutputBuffers, c.connOpts.MaxOutputBuffers, c.connOpts.NumInputBuffers
		connType = c.connOpts.ConnectionType
	}

	cp, err := pool.NewChannelPool(pool.ChannelPoolConfig{
		MaxFragmentSize: s.maxFragmentSize,
		Guaranteed:      guaranteed,
		Max:             ceiling,
		Shared:          shared,
		Version:         s.version,
	})
	if err != nil {
		return c.fail(api.Failure, "output buffers", err)
	}
	codec, err := protocol.NewCodec(s.compression, s.level)
	if err != nil {
		return c.fail(api.Failure, "compression", err)
	}
	wq, err := newWriteQueue(api.DefaultPriorityFlushOrder)
	if err != nil {
		return c.fail(api.Failure, "write queue", err)
	}

	frame := s.maxFragmentSize + protocol.HeaderLength
	in := protocol.NewInputBuffer(numIn * frame)
	if c.in != nil {
		in.Append(c.in.Bytes())
	}
	c.in = in
	c.pool = cp
	c.codec = codec
	c.wq = wq
	c.scratch = bpool.NewBytePool(2, frame)
	c.threshold = s.compression.DefaultThreshold()
	c.hwm = api.DefaultHighWaterMark
	c.ping = NewPingMonitor(s.pingTimeout, c.now())
	c.frags = make(map[uint16]*reassembly)
	c.hsOut = nil

	snd, rcv := c.sock.sysBuffers()
	c.info = api.ChannelInfo{
		ID:                   c.id,
		ConnectionType:       connType,
		ConnectionVersion:    s.version,
		ProtocolType:         c.protocolType(),
		MajorVersion:         s.major,
		MinorVersion:         s.minor,
		MaxFragmentSize:      s.maxFragmentSize,
		NumInputBuffers:      numIn,
		PingTimeout:          s.pingTimeout,
		ClientToServerPings:  true,
		ServerToClientPings:  true,
		CompressionType:      s.compression,
		SysSendBufSize:       snd,
		SysRecvBufSize:       rcv,
		ComponentVersion:     c.componentVersion(),
		PeerComponentVersion: s.peerComponent,
		KeyExchange:          s.sharedKey != nil,
		SharedKey:            s.sharedKey,
	}

	c.hs = hsDone
	c.setState(api.ChannelActive)
	c.rt.metrics.ChannelsActive.Inc()
	c.rt.probes.RegisterProbe(c.probeName(), c.probe)
	c.log = c.baseLog.With().Str("version", s.version.String()).Logger()
	c.log.Info().
		Str("peer", c.sock.remote()).
		Int("max_fragment_size", s.maxFragmentSize).
		Dur("ping_timeout", s.pingTimeout).
		Str("compression", s.compression.String()).
		Bool("key_exchange", s.sharedKey != nil).
		Msg("channel active")
	return api.Success, nil
}

func (c *Channel) protocolType() uint8 {
	if c.role == roleServer {
		return c.bindOpts.ProtocolType
	}
	return c.connOpts.ProtocolType
}

func (c *Channel) componentVersion() string {
	if c.role == roleServer {
		return c.bindOpts.ComponentVersion
	}
	return c.connOpts.ComponentVersion
}
