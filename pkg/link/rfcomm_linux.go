// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package link

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

func rfcommSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return -1, fmt.Errorf("rfcomm socket: %w", err)
	}
	return fd, nil
}

type rfcommListener struct {
	file *os.File
	once sync.Once
}

func (l *rfcommListener) Accept() (Conn, error) {
	rc, err := l.file.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		nfd       int
		sa        unix.Sockaddr
		acceptErr error
	)
	err = rc.Read(func(fd uintptr) bool {
		nfd, sa, acceptErr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return acceptErr != unix.EAGAIN
	})
	if err != nil {
		return nil, ErrListenerClosed
	}
	if acceptErr != nil {
		return nil, &TransportError{Op: "accept", Err: acceptErr}
	}

	name := "rfcomm"
	if peer, ok := sa.(*unix.SockaddrRFCOMM); ok {
		name = FormatBDAddr(peer.Addr)
	}
	return NewConn(os.NewFile(uintptr(nfd), name), name), nil
}

func (l *rfcommListener) Close() error {
	var err error
	l.once.Do(func() { err = l.file.Close() })
	return err
}

// Listen implements Transport. It binds every local adapter.
func (t RFCOMM) Listen(ctx context.Context) (Listener, error) {
	fd, err := rfcommSocket()
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: t.channel()}); err != nil {
		unix.Close(fd)
		return nil, &TransportError{Op: "bind", Remote: fmt.Sprintf("channel %d", t.channel()), Err: err}
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, &TransportError{Op: "listen", Err: err}
	}
	return &rfcommListener{file: os.NewFile(uintptr(fd), "rfcomm-listener")}, nil
}

// Dial implements Transport. remote is "AA:BB:CC:DD:EE:FF" or
// "AA:BB:CC:DD:EE:FF/channel".
func (t RFCOMM) Dial(ctx context.Context, remote string) (Conn, error) {
	addr, ch, err := t.splitRemote(remote)
	if err != nil {
		return nil, err
	}
	fd, err := rfcommSocket()
	if err != nil {
		return nil, err
	}
	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: ch})
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, &TransportError{Op: "connect", Remote: remote, Err: err}
	}

	file := os.NewFile(uintptr(fd), remote)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			file.Close()
		case <-done:
		}
	}()

	rc, err := file.SyscallConn()
	if err != nil {
		file.Close()
		return nil, err
	}
	var connectErr error
	werr := rc.Write(func(fd uintptr) bool {
		n, gerr := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		switch {
		case gerr != nil:
			connectErr = gerr
		case n == int(unix.EINPROGRESS) || n == int(unix.EALREADY):
			return false
		case n != 0:
			connectErr = unix.Errno(n)
		}
		return true
	})
	if werr != nil {
		file.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "connect", Remote: remote, Err: werr}
	}
	if connectErr != nil {
		file.Close()
		return nil, &TransportError{Op: "connect", Remote: remote, Err: connectErr}
	}
	return NewConn(file, remote), nil
}
