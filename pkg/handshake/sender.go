// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package handshake

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Emitter is the actuating side of the physical channel. Transmit blocks for
// the whole transmission and returns early when ctx is cancelled.
type Emitter interface {
	Transmit(ctx context.Context, cfg Config, progress func(percent float64)) error
}

// SenderOptions configures a SenderSession. All callbacks are optional.
type SenderOptions struct {
	// EndDelay is waited between the end of a transmission and END, letting
	// the receiver's sensor settle.
	EndDelay   time.Duration
	OnProgress func(trial int, percent float64)
	OnTrial    func(trial int, acked bool)
	// OnDone is called exactly once when the session ends. A nil error means
	// every trial ran and END_TRIALS was sent.
	OnDone func(error)
	Logger logrus.FieldLogger
}

// SenderSession announces a configuration, transmits on ACK, and repeats for
// the configured number of trials.
type SenderSession struct {
	cfg     Config
	emitter Emitter
	send    func([]byte)
	opts    SenderOptions
	log     logrus.FieldLogger

	mu           sync.Mutex
	splitter     Splitter
	ctx          context.Context
	cancel       context.CancelFunc
	remaining    int
	trial        int
	transmitting bool
	done         bool
}

// NewSenderSession creates a session writing its messages through send.
func NewSenderSession(cfg Config, emitter Emitter, send func([]byte), opts SenderOptions) (*SenderSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &SenderSession{
		cfg:       cfg,
		emitter:   emitter,
		send:      send,
		opts:      opts,
		log:       log.WithField("wave", cfg.Wave),
		remaining: cfg.Trials,
	}, nil
}

// Begin announces the first trial. Cancelling ctx aborts any transmission.
func (s *SenderSession) Begin(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.announce()
}

// Cancel aborts the session.
func (s *SenderSession) Cancel() {
	s.finish(context.Canceled)
}

// Remaining returns the number of trials not yet acknowledged.
func (s *SenderSession) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Feed consumes bytes received from the link.
func (s *SenderSession) Feed(data []byte) {
	s.mu.Lock()
	msgs := s.splitter.Feed(data)
	s.mu.Unlock()

	for _, m := range msgs {
		s.Handle(m)
	}
}

// Handle processes one message from the receiver.
func (s *SenderSession) Handle(m Message) {
	s.log.WithField("message", m.String()).Debug("received")

	switch {
	case m.Command == CmdAck && m.Subject == CmdStart:
		s.transmit()
	case m.Command == CmdNack && m.Subject == CmdStart:
		s.finish(fmt.Errorf("%w: %s", ErrRejected, m))
	case m.Command == CmdAck && m.Subject == CmdEnd:
		s.trialDone(true)
	case m.Command == CmdNack && m.Subject == CmdEnd:
		s.log.Warn("receiver was not armed, trial lost")
		s.trialDone(false)
	case m.IsResponse():
		s.log.WithField("message", m.String()).Warn("peer rejected message")
	default:
		s.write(Nack(m.Command))
	}
}

func (s *SenderSession) write(m Message) {
	s.log.WithField("message", m.String()).Debug("sending")
	s.send(m.Bytes())
}

func (s *SenderSession) announce() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.trial++
	trial := s.trial
	s.mu.Unlock()

	s.log.WithField("trial", trial).Info("announcing transmission")
	s.write(s.cfg.Message())
}

func (s *SenderSession) transmit() {
	s.mu.Lock()
	if s.done || s.transmitting || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.transmitting = true
	ctx := s.ctx
	trial := s.trial
	s.mu.Unlock()

	go func() {
		progress := func(p float64) {
			if s.opts.OnProgress != nil {
				s.opts.OnProgress(trial, p)
			}
		}
		err := s.emitter.Transmit(ctx, s.cfg, progress)
		if err == nil && s.opts.EndDelay > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(s.opts.EndDelay):
			}
		}

		s.mu.Lock()
		s.transmitting = false
		s.mu.Unlock()

		if err != nil {
			s.finish(fmt.Errorf("transmission failed: %w", err))
			return
		}
		s.write(Message{Command: CmdEnd})
	}()
}

func (s *SenderSession) trialDone(acked bool) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.remaining--
	remaining := s.remaining
	trial := s.trial
	s.mu.Unlock()

	if s.opts.OnTrial != nil {
		s.opts.OnTrial(trial, acked)
	}

	if remaining > 0 {
		s.announce()
		return
	}
	s.write(Message{Command: CmdEndTrials})
	s.finish(nil)
}

func (s *SenderSession) finish(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err != nil {
		s.log.WithError(err).Warn("session aborted")
	} else {
		s.log.Info("all trials sent")
	}
	if s.opts.OnDone != nil {
		s.opts.OnDone(err)
	}
}
