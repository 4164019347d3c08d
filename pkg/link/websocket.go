// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocket carries the control stream over WebSocket text messages, for
// peers that can reach each other over IP but not over Bluetooth.
type WebSocket struct {
	ListenAddr string // host:port served by Listen
	Path       string // defaults to "/"

	// HTTP Basic auth, required by Listen and sent by Dial when Username is set
	Username string
	Password string

	SkipSSLVerify bool
}

// WebSocketConnection wraps a WebSocket connection for byte-level reading
type WebSocketConnection struct {
	conn      *websocket.Conn
	name      string
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

func (w *WebSocketConnection) RemoteName() string { return w.name }

func (t WebSocket) path() string {
	if t.Path == "" {
		return "/"
	}
	return t.Path
}

func (t WebSocket) authorized(r *http.Request) bool {
	if t.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(t.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(t.Password)) == 1
	return userOK && passOK
}

type wsListener struct {
	srv    *http.Server
	conns  chan Conn
	closed chan struct{}
	once   sync.Once
	addr   net.Addr
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.srv.Close()
	})
	return err
}

// Addr returns the bound address, useful when listening on port 0.
func (l *wsListener) Addr() net.Addr { return l.addr }

// Listen implements Transport.
func (t WebSocket) Listen(ctx context.Context) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.ListenAddr)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		conns:  make(chan Conn),
		closed: make(chan struct{}),
		addr:   ln.Addr(),
	}
	upgrader := websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(t.path(), func(w http.ResponseWriter, r *http.Request) {
		if !t.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="overwave"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := &WebSocketConnection{conn: c, name: r.RemoteAddr}
		select {
		case l.conns <- conn:
		case <-l.closed:
			c.Close()
		}
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go l.srv.Serve(ln)
	return l, nil
}

// Dial implements Transport. remote is a ws:// or wss:// URL.
func (t WebSocket) Dial(ctx context.Context, remote string) (Conn, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: t.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if t.Username != "" && t.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(t.Username + ":" + t.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, remote, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &WebSocketConnection{conn: conn, name: u.Host}, nil
}
