// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// MemoryNetwork connects in-process transports with net.Pipe. Used by the
// simulator and tests.
type MemoryNetwork struct {
	mu        sync.Mutex
	listeners map[string]*memoryListener
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{listeners: make(map[string]*memoryListener)}
}

// Transport returns the transport of the node called addr.
func (n *MemoryNetwork) Transport(addr string) *MemoryTransport {
	return &MemoryTransport{network: n, addr: addr}
}

// MemoryTransport is one node of a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	addr    string
}

type memoryListener struct {
	network *MemoryNetwork
	addr    string
	conns   chan Conn
	closed  chan struct{}
	once    sync.Once
}

func (l *memoryListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

func (l *memoryListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.network.mu.Lock()
		if l.network.listeners[l.addr] == l {
			delete(l.network.listeners, l.addr)
		}
		l.network.mu.Unlock()
	})
	return nil
}

// Listen implements Transport. A newer listener replaces an older one on
// the same address.
func (t *MemoryTransport) Listen(ctx context.Context) (Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &memoryListener{
		network: t.network,
		addr:    t.addr,
		conns:   make(chan Conn),
		closed:  make(chan struct{}),
	}
	t.network.mu.Lock()
	t.network.listeners[t.addr] = l
	t.network.mu.Unlock()
	return l, nil
}

// Dial implements Transport.
func (t *MemoryTransport) Dial(ctx context.Context, remote string) (Conn, error) {
	t.network.mu.Lock()
	l, ok := t.network.listeners[remote]
	t.network.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("connection refused: %s", remote)
	}

	local, peer := net.Pipe()
	select {
	case l.conns <- &netConn{Conn: peer, name: t.addr}:
		return &netConn{Conn: local, name: remote}, nil
	case <-l.closed:
		local.Close()
		peer.Close()
		return nil, fmt.Errorf("connection refused: %s", remote)
	case <-ctx.Done():
		local.Close()
		peer.Close()
		return nil, ctx.Err()
	}
}
