// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link keeps one point-to-point control connection alive between two
// devices. A Service listens for a peer, dials one on request, and restarts
// listening by itself whenever a connection fails or drops.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State of the link.
type State int

const (
	StateNone State = iota
	StateListening
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "none"
	}
}

// EventKind discriminates Event.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventDeviceName
	EventDisconnected
	EventReceived
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state"
	case EventDeviceName:
		return "device_name"
	case EventDisconnected:
		return "disconnected"
	case EventReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Event is delivered to the Observer.
type Event struct {
	Kind  EventKind
	State State  // EventStateChanged
	Name  string // EventDeviceName
	Err   error  // EventDisconnected
	Data  []byte // EventReceived
}

// Observer receives events in order from a single goroutine. It may call
// back into the Service.
type Observer func(Event)

var (
	ErrClosed = errors.New("link service closed")
	ErrReset  = errors.New("link reset")
)

// Options configures a Service.
type Options struct {
	Observer Observer
	Logger   logrus.FieldLogger
	// RestartDelay is the first backoff after a failed listen; it doubles on
	// every consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	// WriteQueue bounds the writes waiting for the connection.
	WriteQueue int
	// DrainTimeout bounds how long Reset and Close wait for queued writes.
	DrainTimeout time.Duration
}

type role struct {
	cancel context.CancelFunc
	closer io.Closer
}

type connRole struct {
	*role
	conn Conn
	out  chan []byte

	draining bool
	reason   error
	drain    chan struct{} // closed when the queue should be flushed
	stopped  chan struct{} // closed when the writer returns
}

// Service is the link state machine. All state and the three roles (accept,
// connect, connected) are guarded by one mutex.
type Service struct {
	transport Transport
	opts      Options
	log       logrus.FieldLogger
	events    *eventQueue

	mu       sync.Mutex
	state    State
	accept   *role
	connect  *role
	conn     *connRole
	failures int
	closed   bool
	wg       sync.WaitGroup
}

// New creates a stopped Service.
func New(transport Transport, opts Options) *Service {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 500 * time.Millisecond
	}
	if opts.MaxRestartDelay < opts.RestartDelay {
		opts.MaxRestartDelay = 30 * time.Second
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = 64
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	s := &Service{
		transport: transport,
		opts:      opts,
		log:       log,
		events:    newEventQueue(),
	}
	go s.events.run(opts.Observer)
	return s
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start listens for a peer. Calling it while already listening is a no-op
// apart from dropping any connect attempt or connection. Writes still queued
// for a dropped connection are lost; Reset delivers them first.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.startLocked(0)
	return nil
}

// Connect dials remote, replacing any attempt in progress. Listening
// continues until a connection is established either way.
func (s *Service) Connect(remote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state == StateConnecting {
		s.stopLocked(&s.connect)
	}
	s.stopConnLocked()

	ctx, cancel := context.WithCancel(context.Background())
	r := &role{cancel: cancel}
	s.connect = r
	s.spawn(func() { s.runConnect(ctx, r, remote) })
	s.setStateLocked(StateConnecting)
	s.log.WithField("remote", remote).Info("connecting")
	return nil
}

// Reset flushes the writes already queued for the peer and then drops the
// connection as a failure: the observer sees EventDisconnected with reason
// and the service listens again. Without a connection it behaves like Start.
func (s *Service) Reset(reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		s.startLocked(0)
		return nil
	}
	if reason == nil {
		reason = ErrReset
	}
	s.drainLocked(reason)
	return nil
}

// Write queues p for the peer. It never blocks and reports whether the
// bytes were queued; it is a no-op unless connected.
func (s *Service) Write(p []byte) bool {
	s.mu.Lock()
	cr := s.conn
	connected := s.state == StateConnected && cr != nil && !cr.draining
	s.mu.Unlock()
	if !connected {
		return false
	}

	buf := append([]byte(nil), p...)
	select {
	case cr.out <- buf:
		return true
	default:
		s.log.WithField("bytes", len(p)).Warn("write queue full, dropping")
		return false
	}
}

// Stop cancels every role and returns to StateNone.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
	s.setStateLocked(StateNone)
}

// Close flushes queued writes, stops the service, waits for its goroutines,
// and stops event delivery once the queued events are drained.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cr := s.conn
	if cr != nil {
		s.drainLocked(ErrClosed)
	}
	s.mu.Unlock()

	if cr != nil {
		select {
		case <-cr.stopped:
		case <-time.After(s.opts.DrainTimeout):
		}
	}

	s.mu.Lock()
	s.stopAllLocked()
	s.setStateLocked(StateNone)
	s.mu.Unlock()

	s.wg.Wait()
	s.events.close()
	return nil
}

func (s *Service) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) emit(ev Event) {
	s.events.push(ev)
}

func (s *Service) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.state, "to": st}).Debug("state change")
	s.state = st
	s.emit(Event{Kind: EventStateChanged, State: st})
}

func (s *Service) stopLocked(rp **role) {
	r := *rp
	if r == nil {
		return
	}
	*rp = nil
	r.cancel()
	if r.closer != nil {
		r.closer.Close()
	}
}

func (s *Service) stopConnLocked() {
	if s.conn == nil {
		return
	}
	r := s.conn.role
	s.conn = nil
	s.stopLocked(&r)
}

// drainLocked asks the writer of the current connection to flush and then
// fail the connection with reason.
func (s *Service) drainLocked(reason error) {
	cr := s.conn
	if cr.draining {
		return
	}
	cr.draining = true
	cr.reason = reason
	close(cr.drain)
	// a peer that stops reading must not hold the connection open
	time.AfterFunc(s.opts.DrainTimeout, func() { cr.conn.Close() })
}

func (s *Service) stopAllLocked() {
	s.stopLocked(&s.accept)
	s.stopLocked(&s.connect)
	s.stopConnLocked()
}

func (s *Service) startLocked(delay time.Duration) {
	s.stopLocked(&s.connect)
	s.stopConnLocked()
	if s.accept == nil {
		ctx, cancel := context.WithCancel(context.Background())
		r := &role{cancel: cancel}
		s.accept = r
		s.spawn(func() { s.runAccept(ctx, r, delay) })
	}
	s.setStateLocked(StateListening)
}

// current reports whether r is still one of the live roles.
func (s *Service) current(r *role) bool {
	return r == s.accept || r == s.connect || (s.conn != nil && s.conn.role == r)
}

// fail handles a failure reported by role r: notify, drop to None, and
// listen again. Failures of a role that was already replaced are ignored.
func (s *Service) fail(r *role, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.current(r) {
		return
	}

	delay := time.Duration(0)
	switch r {
	case s.accept:
		s.stopLocked(&s.accept)
		s.failures++
		delay = backoff(s.opts.RestartDelay, s.opts.MaxRestartDelay, s.failures)
	case s.connect:
		s.stopLocked(&s.connect)
	default:
		s.stopConnLocked()
	}

	s.log.WithError(err).WithField("retry_in", delay).Warn("link failed")
	s.emit(Event{Kind: EventDisconnected, Err: err})
	s.setStateLocked(StateNone)
	s.startLocked(delay)
}

// backoff doubles base once per failure after the first, capped at limit.
func backoff(base, limit time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	return min(delay, limit)
}

func (s *Service) runAccept(ctx context.Context, r *role, delay time.Duration) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	l, err := s.transport.Listen(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.fail(r, &TransportError{Op: "listen", Err: err})
		}
		return
	}

	s.mu.Lock()
	if s.accept != r {
		s.mu.Unlock()
		l.Close()
		return
	}
	r.closer = l
	s.mu.Unlock()
	s.log.Debug("listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.fail(r, &TransportError{Op: "accept", Err: err})
			}
			return
		}

		s.mu.Lock()
		if s.accept != r {
			s.mu.Unlock()
			conn.Close()
			return
		}
		switch s.state {
		case StateListening, StateConnecting:
			s.connectedLocked(conn)
			s.mu.Unlock()
			return
		default:
			s.mu.Unlock()
			conn.Close()
		}
	}
}

func (s *Service) runConnect(ctx context.Context, r *role, remote string) {
	conn, err := s.transport.Dial(ctx, remote)
	if err != nil {
		if ctx.Err() == nil {
			s.fail(r, &TransportError{Op: "dial", Remote: remote, Err: err})
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connect != r {
		conn.Close()
		return
	}
	s.connect = nil
	r.cancel()
	s.connectedLocked(conn)
}

// connectedLocked takes over conn: every other role is cancelled and the
// connected role's reader and writer start.
func (s *Service) connectedLocked(conn Conn) {
	s.stopLocked(&s.accept)
	s.stopLocked(&s.connect)
	s.stopConnLocked()
	s.failures = 0

	ctx, cancel := context.WithCancel(context.Background())
	cr := &connRole{
		role:    &role{cancel: cancel, closer: conn},
		conn:    conn,
		out:     make(chan []byte, s.opts.WriteQueue),
		drain:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.conn = cr
	s.spawn(func() { s.runReader(ctx, cr) })
	s.spawn(func() { s.runWriter(ctx, cr) })

	name := conn.RemoteName()
	s.setStateLocked(StateConnected)
	s.emit(Event{Kind: EventDeviceName, Name: name})
	s.log.WithField("remote", name).Info("connected")
}

func (s *Service) runReader(ctx context.Context, cr *connRole) {
	buf := make([]byte, 4096)
	for {
		n, err := cr.conn.Read(buf)
		if n > 0 && ctx.Err() == nil {
			s.emit(Event{Kind: EventReceived, Data: append([]byte(nil), buf[:n]...)})
		}
		if err != nil {
			if ctx.Err() == nil {
				if errors.Is(err, io.EOF) {
					err = fmt.Errorf("device connection was lost: %w", err)
				}
				s.fail(cr.role, &TransportError{Op: "read", Remote: cr.conn.RemoteName(), Err: err})
			}
			return
		}
	}
}

func (s *Service) runWriter(ctx context.Context, cr *connRole) {
	defer close(cr.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cr.drain:
			s.flush(cr)
			s.fail(cr.role, &TransportError{Op: "reset", Remote: cr.conn.RemoteName(), Err: cr.reason})
			return
		case p := <-cr.out:
			if _, err := cr.conn.Write(p); err != nil {
				if ctx.Err() == nil {
					s.fail(cr.role, &TransportError{Op: "write", Remote: cr.conn.RemoteName(), Err: err})
				}
				return
			}
		}
	}
}

// flush writes whatever is still queued.
func (s *Service) flush(cr *connRole) {
	for {
		select {
		case p := <-cr.out:
			if _, err := cr.conn.Write(p); err != nil {
				s.log.WithError(err).Debug("flush failed")
				return
			}
		default:
			return
		}
	}
}

// eventQueue delivers events in order without ever blocking the producer.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1), done: make(chan struct{})}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *eventQueue) run(observer Observer) {
	defer close(q.done)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ev := range items {
			if observer != nil {
				observer(ev)
			}
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.signal
	}
}
