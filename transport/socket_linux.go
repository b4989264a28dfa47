//go:build linux
// +build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket calls issued directly on the descriptor owned by the Go
// runtime, so EAGAIN comes back to the caller instead of parking.

package transport

import (
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func (s *socket) readNB(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	var opErr error
	err := s.raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}
	switch {
	case opErr == unix.EAGAIN:
		return 0, errWouldBlock
	case opErr != nil:
		return 0, os.NewSyscallError("read", opErr)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

func (s *socket) writeNB(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	var opErr error
	err := s.raw.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}
	if opErr == unix.EAGAIN {
		return 0, errWouldBlock
	}
	if opErr != nil {
		return 0, os.NewSyscallError("write", opErr)
	}
	return n, nil
}

// setSysBuffers applies SO_SNDBUF and SO_RCVBUF; zero leaves a size alone.
func (s *socket) setSysBuffers(snd, rcv int) error {
	var opErr error
	err := s.raw.Control(func(fd uintptr) {
		if snd > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, snd); e != nil {
				opErr = os.NewSyscallError("setsockopt SO_SNDBUF", e)
				return
			}
		}
		if rcv > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcv); e != nil {
				opErr = os.NewSyscallError("setsockopt SO_RCVBUF", e)
			}
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// sysBuffers reads back the kernel buffer sizes.
func (s *socket) sysBuffers() (snd, rcv int) {
	_ = s.raw.Control(func(fd uintptr) {
		snd, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
		rcv, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	return snd, rcv
}

// acceptNB takes one pending connection without waiting.
func acceptNB(ln *net.TCPListener) (*net.TCPConn, error) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return nil, err
	}
	nfd := -1
	var opErr error
	// listener SyscallConn supports Control only; the fd is already
	// non-blocking
	err = raw.Control(func(fd uintptr) {
		nfd, _, opErr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	})
	if err != nil {
		return nil, err
	}
	if opErr == unix.EAGAIN {
		return nil, errWouldBlock
	}
	if opErr != nil {
		return nil, os.NewSyscallError("accept4", opErr)
	}
	f := os.NewFile(uintptr(nfd), "ripc-accept")
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	return c.(*net.TCPConn), nil
}
