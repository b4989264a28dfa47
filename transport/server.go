// File: transport/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server: listening socket, shared output pool and channel acceptance.

package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/pool"
	"github.com/momentics/hioload-ripc/protocol"
)

// Server accepts channels on one listening socket. Channels it accepts
// share its output pool beyond their guaranteed buffers.
type Server struct {
	rt   *Runtime
	id   string
	opts api.BindOptions
	ln   *net.TCPListener
	fd   int
	log  zerolog.Logger

	mu     sync.Mutex
	shared *pool.SlabPool
	closed atomic.Bool
}

// Bind opens the listening socket.
func (rt *Runtime) Bind(opts api.BindOptions) (*Server, error) {
	if err := opts.Validate(); err != nil {
		return nil, api.WrapError(api.InvalidArgument, "bind", err)
	}
	nl, err := net.Listen("tcp", opts.Address)
	if err != nil {
		return nil, api.WrapError(api.Failure, "listen on "+opts.Address, err)
	}
	ln := nl.(*net.TCPListener)
	s := &Server{rt: rt, id: uuid.NewString(), opts: opts, ln: ln, fd: -1}
	if raw, err := ln.SyscallConn(); err == nil {
		_ = raw.Control(func(fd uintptr) { s.fd = int(fd) })
	}
	if opts.SharedPoolSize > 0 {
		s.shared = pool.NewSlabPool(s.slotSize(), 0, opts.SharedPoolSize)
	}
	s.log = rt.log.With().Str("server", s.id).Logger()
	rt.probes.RegisterProbe("server/"+s.id, s.probe)
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Bool("blocking", opts.Blocking).
		Str("type", opts.ConnectionType.String()).
		Int("shared_pool", opts.SharedPoolSize).
		Msg("server listening")
	return s, nil
}

func (s *Server) slotSize() int { return s.opts.MaxFragmentSize + protocol.HeaderLength }

// Accept takes one pending connection. Blocking servers wait for it and
// finish the handshake before returning. Non-blocking servers return an
// error with code ReadWouldBlock when nothing is pending, and the channel
// is driven with Init.
func (s *Server) Accept(opts api.AcceptOptions) (*Channel, error) {
	if s.closed.Load() {
		return nil, api.NewError(api.Failure, "server is closed")
	}
	var tc *net.TCPConn
	var err error
	if s.opts.Blocking {
		tc, err = s.ln.AcceptTCP()
	} else {
		tc, err = acceptNB(s.ln)
	}
	if err != nil {
		if isWouldBlock(err) {
			return nil, api.NewError(api.ReadWouldBlock, "no pending connection")
		}
		return nil, api.WrapError(api.Failure, "accept", err)
	}

	sock, err := newSocket(tc, s.opts.Blocking)
	if err != nil {
		_ = tc.Close()
		return nil, api.WrapError(api.Failure, "accept", err)
	}
	if err := sock.setNoDelay(s.opts.TCPNoDelay); err != nil {
		s.log.Warn().Err(err).Msg("set TCP_NODELAY")
	}
	snd, rcv := s.opts.SysSendBufSize, s.opts.SysRecvBufSize
	if opts.SysSendBufSize > 0 {
		snd = opts.SysSendBufSize
	}
	if opts.SysRecvBufSize > 0 {
		rcv = opts.SysRecvBufSize
	}
	if err := sock.setSysBuffers(snd, rcv); err != nil {
		s.log.Warn().Err(err).Msg("set socket buffers")
	}

	c := newChannel(s.rt, roleServer)
	c.srv = s
	c.bindOpts = s.opts
	c.acceptOpts = opts
	c.sock = sock
	c.in = protocol.NewInputBuffer(protocol.MaxHandshakeLength)
	if s.opts.ConnectionType == api.ConnectionEncrypted {
		sock.wrapServerTLS(s.opts.TLS)
		c.startServerTLS(sock)
	} else {
		c.hs = hsWaitRequest
	}
	c.log.Debug().Str("peer", sock.remote()).Int("fd", sock.fd).Msg("connection accepted")

	if !s.opts.Blocking {
		return c, nil
	}
	for {
		code, err := c.Init(nil)
		if err != nil {
			return nil, err
		}
		if code == api.Success {
			return c, nil
		}
	}
}

// sharedPool is read when a channel activates.
func (s *Server) sharedPool() *pool.SlabPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared
}

// Addr is the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Socket is the listening descriptor to watch for pending connections.
func (s *Server) Socket() int { return s.fd }

// Info reports shared pool usage.
func (s *Server) Info() (api.ServerInfo, error) {
	if s.closed.Load() {
		return api.ServerInfo{}, api.NewError(api.Failure, "server is closed")
	}
	sp := s.sharedPool()
	if sp == nil {
		return api.ServerInfo{}, nil
	}
	st := sp.Stats()
	return api.ServerInfo{
		CurrentBufferUsage: st.InUse,
		PeakBufferUsage:    st.Peak,
		SharedPoolSize:     st.Limit,
	}, nil
}

// IOCtl changes a server option. ServerNumPoolBuffers takes an int; the
// value of ServerPeakReset is ignored.
func (s *Server) IOCtl(code api.IOCtlCode, value any) (api.ReturnCode, error) {
	if s.closed.Load() {
		return api.Failure, api.NewError(api.Failure, "server is closed")
	}
	switch code {
	case api.IOCtlServerNumPoolBuffers:
		n, ok := intValue(value)
		if !ok || n < 0 {
			return api.InvalidArgument, api.NewError(api.InvalidArgument, "ioctl "+code.String()+": want a non-negative integer")
		}
		s.mu.Lock()
		if s.shared == nil {
			s.shared = pool.NewSlabPool(s.slotSize(), 0, n)
		} else {
			s.shared.SetLimit(n)
		}
		s.mu.Unlock()
	case api.IOCtlServerPeakReset:
		if sp := s.sharedPool(); sp != nil {
			sp.ResetPeak()
		}
	default:
		return api.InvalidArgument, api.NewError(api.InvalidArgument, "ioctl "+code.String()+": not a server option")
	}
	return api.Success, nil
}

// Close stops listening. Accepted channels stay open.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.rt.probes.UnregisterProbe("server/" + s.id)
	err := s.ln.Close()
	s.log.Info().Msg("server closed")
	return err
}

func (s *Server) probe() any {
	info, _ := s.Info()
	return map[string]any{
		"addr":   s.ln.Addr().String(),
		"closed": s.closed.Load(),
		"pool":   info,
	}
}
