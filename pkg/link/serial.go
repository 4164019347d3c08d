// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial runs the link over a tty, typically an RFCOMM device node bound
// with `rfcomm bind` or created by `rfcomm watch` when a peer connects.
type Serial struct {
	Port     string
	BaudRate int
	// PollInterval is how often Listen retries opening a port that does not
	// exist yet.
	PollInterval time.Duration
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
	name string
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

func (s *SerialConnection) RemoteName() string { return s.name }

func (t Serial) open(port string) (*SerialConnection, error) {
	baud := t.BaudRate
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	return &SerialConnection{port: p, name: port}, nil
}

// Dial implements Transport. An empty remote opens the configured port.
func (t Serial) Dial(ctx context.Context, remote string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port := remote
	if port == "" {
		port = t.Port
	}
	return t.open(port)
}

// serialListener hands out the port once it can be opened. A tty has exactly
// one peer, so later Accepts wait for Close.
type serialListener struct {
	t      Serial
	closed chan struct{}
	once   sync.Once
	served bool
}

func (l *serialListener) Accept() (Conn, error) {
	if l.served {
		<-l.closed
		return nil, ErrListenerClosed
	}
	interval := l.t.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		conn, err := l.t.open(l.t.Port)
		if err == nil {
			l.served = true
			return conn, nil
		}
		select {
		case <-l.closed:
			return nil, ErrListenerClosed
		case <-time.After(interval):
		}
	}
}

func (l *serialListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// Listen implements Transport.
func (t Serial) Listen(ctx context.Context) (Listener, error) {
	if t.Port == "" {
		return nil, fmt.Errorf("no serial port configured")
	}
	return &serialListener{t: t, closed: make(chan struct{})}, nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
