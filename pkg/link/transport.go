// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("listener closed")

// Conn is an established byte stream to a peer.
type Conn interface {
	io.ReadWriteCloser
	// RemoteName is a human readable peer identity (device name or address).
	RemoteName() string
}

// Listener yields inbound connections. Close unblocks a pending Accept.
type Listener interface {
	Accept() (Conn, error)
	Close() error
}

// ListenFunc opens a Listener.
type ListenFunc func(ctx context.Context) (Listener, error)

// DialFunc connects to a remote peer. It must return when ctx is done.
type DialFunc func(ctx context.Context, remote string) (Conn, error)

// Transport can both listen and dial.
type Transport interface {
	Listen(ctx context.Context) (Listener, error)
	Dial(ctx context.Context, remote string) (Conn, error)
}

// Composite joins a listen side and a dial side from different transports.
type Composite struct {
	ListenFunc ListenFunc
	DialFunc   DialFunc
}

func (c Composite) Listen(ctx context.Context) (Listener, error) {
	if c.ListenFunc == nil {
		return nil, errors.New("transport cannot listen")
	}
	return c.ListenFunc(ctx)
}

func (c Composite) Dial(ctx context.Context, remote string) (Conn, error) {
	if c.DialFunc == nil {
		return nil, errors.New("transport cannot dial")
	}
	return c.DialFunc(ctx, remote)
}

// TransportError wraps an I/O failure with the operation that hit it.
type TransportError struct {
	Op     string
	Remote string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Remote != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Remote, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// netConn names a net.Conn.
type netConn struct {
	net.Conn
	name string
}

func (c *netConn) RemoteName() string { return c.name }

// NewConn wraps any stream with a peer name.
func NewConn(rwc io.ReadWriteCloser, name string) Conn {
	return &namedConn{ReadWriteCloser: rwc, name: name}
}

type namedConn struct {
	io.ReadWriteCloser
	name string
}

func (c *namedConn) RemoteName() string { return c.name }

// TCP listens and dials plain TCP, mostly useful between two hosts on a LAN
// or for testing.
type TCP struct {
	ListenAddr string
}

type tcpListener struct {
	net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &netConn{Conn: c, name: c.RemoteAddr().String()}, nil
}

// Listen implements Transport.
func (t TCP) Listen(ctx context.Context) (Listener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", t.ListenAddr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{Listener: l}, nil
}

// Dial implements Transport.
func (t TCP) Dial(ctx context.Context, remote string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", remote)
	if err != nil {
		return nil, err
	}
	return &netConn{Conn: c, name: remote}, nil
}
