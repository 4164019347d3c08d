// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package bluez

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/Thermoquad/overwave/pkg/link"
)

const profilePath = dbus.ObjectPath("/com/thermoquad/overwave/profile")

// profile is exported on the bus as org.bluez.Profile1. bluetoothd owns the
// RFCOMM server socket and the SDP record, and hands each accepted socket
// over through NewConnection.
type profile struct {
	client *Client
	conns  chan link.Conn
	closed chan struct{}
}

func (p *profile) Release() *dbus.Error {
	return nil
}

func (p *profile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, props map[string]dbus.Variant) *dbus.Error {
	if err := unix.SetNonblock(int(fd), true); err != nil {
		unix.Close(int(fd))
		return dbus.MakeFailedError(err)
	}
	name := p.client.Alias(AddressFromPath(device))
	conn := link.NewConn(os.NewFile(uintptr(fd), name), name)
	select {
	case p.conns <- conn:
		return nil
	case <-p.closed:
		conn.Close()
		return dbus.MakeFailedError(link.ErrListenerClosed)
	}
}

func (p *profile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	return nil
}

// ProfileListener is a link.Listener backed by a registered BlueZ profile.
type ProfileListener struct {
	client  *Client
	profile *profile
	once    sync.Once
}

func (l *ProfileListener) Accept() (link.Conn, error) {
	select {
	case c := <-l.profile.conns:
		return c, nil
	case <-l.profile.closed:
		return nil, link.ErrListenerClosed
	}
}

// Close unregisters the profile.
func (l *ProfileListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.profile.closed)
		err = l.client.conn.Object(busName, rootPath).Call(profileMgrIface+".UnregisterProfile", 0, profilePath).Err
		l.client.conn.Export(nil, profilePath, profileIface)
	})
	return err
}

// Listen registers the overwave serial profile and returns a listener for
// the connections bluetoothd accepts on it.
func (c *Client) Listen(ctx context.Context, id uuid.UUID, channel uint8) (*ProfileListener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := &profile{client: c, conns: make(chan link.Conn), closed: make(chan struct{})}
	if err := c.conn.Export(p, profilePath, profileIface); err != nil {
		return nil, fmt.Errorf("export profile: %w", err)
	}
	call := c.conn.Object(busName, rootPath).CallWithContext(ctx, profileMgrIface+".RegisterProfile", 0,
		profilePath, id.String(), ProfileOptions("overwave", channel))
	if call.Err != nil {
		c.conn.Export(nil, profilePath, profileIface)
		return nil, fmt.Errorf("register profile: %w", call.Err)
	}
	return &ProfileListener{client: c, profile: p}, nil
}

// ListenFunc adapts Listen for link.Composite.
func (c *Client) ListenFunc(id uuid.UUID, channel uint8) link.ListenFunc {
	return func(ctx context.Context) (link.Listener, error) {
		return c.Listen(ctx, id, channel)
	}
}
