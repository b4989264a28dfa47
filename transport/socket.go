// File: transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte stream under a channel: a TCP connection, optionally wrapped in TLS,
// with non-blocking reads and writes when the channel is non-blocking.

package transport

import (
	"crypto/tls"
	"errors"
	"net"
	"sync/atomic"
	"syscall"
)

// errWouldBlock reports that the socket has no data or no room. It is a
// temporary net.Error so crypto/tls keeps the connection usable after it.
var errWouldBlock error = wouldBlockError{}

type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "transport: operation would block" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }

// socket is the connected stream of one channel.
type socket struct {
	tcp      *net.TCPConn
	raw      syscall.RawConn
	tls      *tls.Conn
	fd       int
	blocking bool
	// nonblock switches the TLS record reader to non-blocking reads once
	// the TLS handshake is done.
	nonblock atomic.Bool
}

func newSocket(c *net.TCPConn, blocking bool) (*socket, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, err
	}
	s := &socket{tcp: c, raw: raw, fd: -1, blocking: blocking}
	_ = raw.Control(func(fd uintptr) { s.fd = int(fd) })
	return s, nil
}

// wrapClientTLS layers a TLS client over the TCP stream.
func (s *socket) wrapClientTLS(cfg *tls.Config) {
	s.tls = tls.Client(&tlsStream{TCPConn: s.tcp, s: s}, cfg)
}

// wrapServerTLS layers a TLS server over the TCP stream.
func (s *socket) wrapServerTLS(cfg *tls.Config) {
	s.tls = tls.Server(&tlsStream{TCPConn: s.tcp, s: s}, cfg)
}

// Read implements io.Reader; it returns errWouldBlock instead of waiting
// on a non-blocking socket.
func (s *socket) Read(p []byte) (int, error) {
	if s.tls != nil {
		s.nonblock.Store(!s.blocking)
		return s.tls.Read(p)
	}
	if s.blocking {
		return s.tcp.Read(p)
	}
	return s.readNB(p)
}

// Write writes as much of p as the socket takes without waiting. TLS
// writes and blocking sockets write all of p.
func (s *socket) Write(p []byte) (int, error) {
	if s.tls != nil {
		return s.tls.Write(p)
	}
	if s.blocking {
		return s.tcp.Write(p)
	}
	return s.writeNB(p)
}

func (s *socket) setNoDelay(on bool) error { return s.tcp.SetNoDelay(on) }

func (s *socket) remote() string {
	if a := s.tcp.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Close drops the connection without a TLS close_notify, which would be a
// blocking write.
func (s *socket) Close() error { return s.tcp.Close() }

// tlsStream is the transport crypto/tls reads records from.
type tlsStream struct {
	*net.TCPConn
	s *socket
}

func (t *tlsStream) Read(p []byte) (int, error) {
	if t.s.nonblock.Load() {
		return t.s.readNB(p)
	}
	return t.TCPConn.Read(p)
}

func isWouldBlock(err error) bool { return errors.Is(err, errWouldBlock) }
