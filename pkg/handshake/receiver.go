// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of one received trial.
type Result struct {
	Config  Config
	Text    string
	Samples int
	Err     error // set when the capture held no decodable frame
}

// Armer is the sensing side of the physical channel.
type Armer interface {
	// Arm starts sampling for a transmission described by cfg.
	Arm(cfg Config) error
	// Finish stops sampling and decodes what was captured.
	Finish(ctx context.Context) (Result, error)
	// Disarm stops sampling and discards the capture.
	Disarm()
}

// ReceiverOptions configures a ReceiverSession. All callbacks are optional.
type ReceiverOptions struct {
	OnResult func(Result)
	OnDone   func()
	// OnReset is called after a handler failure was answered with NACK; the
	// owner should drop the transport.
	OnReset func(error)
	Logger  logrus.FieldLogger
}

// ReceiverSession answers a sender's control messages and drives an Armer.
type ReceiverSession struct {
	armer Armer
	send  func([]byte)
	opts  ReceiverOptions
	log   logrus.FieldLogger

	mu       sync.Mutex
	splitter Splitter
	armed    bool
	cfg      Config
	trial    int
}

// NewReceiverSession creates a session writing its replies through send.
func NewReceiverSession(armer Armer, send func([]byte), opts ReceiverOptions) *ReceiverSession {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &ReceiverSession{armer: armer, send: send, opts: opts, log: log}
}

// Armed reports whether the sensor is currently sampling.
func (s *ReceiverSession) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Feed consumes bytes received from the link.
func (s *ReceiverSession) Feed(ctx context.Context, data []byte) {
	s.mu.Lock()
	msgs := s.splitter.Feed(data)
	s.mu.Unlock()

	for _, m := range msgs {
		s.Handle(ctx, m)
	}
}

// Handle processes one message. A failing handler is answered with NACK and
// the transport is reset through OnReset.
func (s *ReceiverSession) Handle(ctx context.Context, m Message) {
	s.log.WithField("message", m.String()).Debug("received")

	err := s.dispatch(ctx, m)
	if err == nil {
		return
	}

	var perr *ProtocolError
	if errors.As(err, &perr) {
		s.log.WithError(err).Warn("rejected message")
		return
	}

	s.log.WithError(err).Error("handler failed, resetting link")
	s.reply(Nack(m.Command))
	if s.opts.OnReset != nil {
		s.opts.OnReset(err)
	}
}

func (s *ReceiverSession) reply(m Message) {
	s.log.WithField("message", m.String()).Debug("sending")
	s.send(m.Bytes())
}

func (s *ReceiverSession) dispatch(ctx context.Context, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", m.Command, r)
		}
	}()

	switch m.Command {
	case CmdStart:
		return s.start(m)
	case CmdEnd:
		return s.end(ctx)
	case CmdEndTrials:
		s.endTrials()
		return nil
	case CmdAck, CmdNack:
		s.log.WithField("message", m.String()).Debug("ignoring response")
		return nil
	default:
		s.reply(Nack(m.Command))
		return &ProtocolError{Command: m.Command, Err: ErrUnknownCommand}
	}
}

func (s *ReceiverSession) start(m Message) error {
	cfg, err := ParseConfig(m)
	if err != nil {
		s.reply(Nack(CmdStart))
		return err
	}

	s.mu.Lock()
	if s.armed {
		s.armer.Disarm()
		s.armed = false
	}
	s.mu.Unlock()

	if err := s.armer.Arm(cfg); err != nil {
		return fmt.Errorf("failed to arm %s sensor: %w", cfg.Wave, err)
	}

	s.mu.Lock()
	s.armed = true
	s.cfg = cfg
	s.trial++
	trial := s.trial
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"wave":  cfg.Wave,
		"bit":   cfg.BitDuration,
		"trial": trial,
	}).Info("armed")
	s.reply(Ack(CmdStart))
	return nil
}

func (s *ReceiverSession) end(ctx context.Context) error {
	s.mu.Lock()
	armed := s.armed
	s.armed = false
	cfg := s.cfg
	s.mu.Unlock()

	if !armed {
		s.reply(Nack(CmdEnd))
		return &ProtocolError{Command: CmdEnd, Err: ErrNotArmed}
	}

	res, err := s.armer.Finish(ctx)
	if err != nil {
		return fmt.Errorf("failed to finish capture: %w", err)
	}
	res.Config = cfg

	fields := logrus.Fields{"wave": cfg.Wave, "samples": res.Samples}
	if res.Err != nil {
		s.log.WithFields(fields).WithError(res.Err).Warn("no message received")
	} else {
		s.log.WithFields(fields).WithField("text", res.Text).Info("message received")
	}

	s.reply(Ack(CmdEnd))
	if s.opts.OnResult != nil {
		s.opts.OnResult(res)
	}
	return nil
}

func (s *ReceiverSession) endTrials() {
	s.mu.Lock()
	if s.armed {
		s.armer.Disarm()
		s.armed = false
	}
	trials := s.trial
	s.trial = 0
	s.mu.Unlock()

	s.log.WithField("trials", trials).Info("session complete")
	if s.opts.OnDone != nil {
		s.opts.OnDone()
	}
}
