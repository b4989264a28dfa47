//go:build !linux
// +build !linux

// File: transport/socket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable fallback: non-blocking behaviour approximated with a short
// deadline on the standard connection.

package transport

import (
	"errors"
	"net"
	"os"
	"time"
)

const pollSlice = time.Millisecond

func (s *socket) readNB(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	_ = s.tcp.SetReadDeadline(time.Now().Add(pollSlice))
	n, err := s.tcp.Read(p)
	_ = s.tcp.SetReadDeadline(time.Time{})
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if n > 0 {
			return n, nil
		}
		return 0, errWouldBlock
	}
	return n, err
}

func (s *socket) writeNB(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	_ = s.tcp.SetWriteDeadline(time.Now().Add(pollSlice))
	n, err := s.tcp.Write(p)
	_ = s.tcp.SetWriteDeadline(time.Time{})
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if n > 0 {
			return n, nil
		}
		return 0, errWouldBlock
	}
	return n, err
}

func (s *socket) setSysBuffers(snd, rcv int) error {
	if snd > 0 {
		if err := s.tcp.SetWriteBuffer(snd); err != nil {
			return err
		}
	}
	if rcv > 0 {
		if err := s.tcp.SetReadBuffer(rcv); err != nil {
			return err
		}
	}
	return nil
}

// sysBuffers cannot read the sizes back portably.
func (s *socket) sysBuffers() (snd, rcv int) { return 0, 0 }

func acceptNB(ln *net.TCPListener) (*net.TCPConn, error) {
	_ = ln.SetDeadline(time.Now().Add(pollSlice))
	c, err := ln.AcceptTCP()
	_ = ln.SetDeadline(time.Time{})
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, errWouldBlock
	}
	return c, err
}
