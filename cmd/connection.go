// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/overwave/internal/bluez"
	"github.com/Thermoquad/overwave/internal/config"
	"github.com/Thermoquad/overwave/pkg/link"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("OVERWAVE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenTransport builds the control link transport described by lc, and a
// one-line description of it for headers.
func OpenTransport(lc config.LinkConfig) (link.Transport, string, error) {
	switch lc.Transport {
	case "tcp":
		return link.TCP{ListenAddr: lc.Listen}, fmt.Sprintf("TCP: %s", lc.Listen), nil

	case "websocket":
		password := lc.Password
		if lc.Username != "" && password == "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		t := link.WebSocket{
			ListenAddr:    lc.Listen,
			Username:      lc.Username,
			Password:      password,
			SkipSSLVerify: lc.SkipSSLVerify,
		}
		return t, fmt.Sprintf("WebSocket: %s", lc.Listen), nil

	case "serial":
		if lc.SerialPort == "" {
			return nil, "", fmt.Errorf("--port must be specified for the serial transport")
		}
		t := link.Serial{Port: lc.SerialPort, BaudRate: lc.BaudRate}
		return t, fmt.Sprintf("Serial: %s @ %d baud", lc.SerialPort, lc.BaudRate), nil

	case "rfcomm":
		return openRFCOMM(lc)
	}
	return nil, "", fmt.Errorf("unknown transport %q", lc.Transport)
}

// openRFCOMM uses BlueZ for peer names when bluetoothd is reachable, and
// optionally lets it own the listening socket through a registered profile.
func openRFCOMM(lc config.LinkConfig) (link.Transport, string, error) {
	rf := link.RFCOMM{Channel: lc.Channel}
	info := fmt.Sprintf("RFCOMM: channel %d", rf.Channel)
	if rf.Channel == 0 {
		info = fmt.Sprintf("RFCOMM: channel %d", link.DefaultChannel)
	}

	client, err := bluez.Open(lc.Adapter)
	if err != nil {
		if lc.BluezProfile {
			return nil, "", err
		}
		logger.WithError(err).Debug("bluez unavailable, peers will be shown by address")
		return rf, info, nil
	}

	dial := func(ctx context.Context, remote string) (link.Conn, error) {
		conn, err := rf.Dial(ctx, remote)
		if err != nil {
			return nil, err
		}
		addr, _, _ := strings.Cut(remote, "/")
		return link.NewConn(conn, client.Alias(addr)), nil
	}
	var listen link.ListenFunc = func(ctx context.Context) (link.Listener, error) {
		l, err := rf.Listen(ctx)
		if err != nil {
			return nil, err
		}
		return &aliasListener{Listener: l, client: client}, nil
	}
	if lc.BluezProfile {
		channel := lc.Channel
		if channel == 0 {
			channel = link.DefaultChannel
		}
		listen = client.ListenFunc(link.ServiceUUID, channel)
		info += " (bluez profile " + link.ServiceUUID.String() + ")"
	}
	return link.Composite{ListenFunc: listen, DialFunc: dial}, info, nil
}

// aliasListener renames accepted connections after the peer's BlueZ alias.
type aliasListener struct {
	link.Listener
	client *bluez.Client
}

func (l *aliasListener) Accept() (link.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return link.NewConn(conn, l.client.Alias(conn.RemoteName())), nil
}
