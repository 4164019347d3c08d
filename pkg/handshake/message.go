// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package handshake implements the text control protocol that brackets a
// physical-channel transmission. Messages are LF separated lines: a command
// keyword, then either key:value fields (START) or the subject command being
// answered (ACK, NACK).
//
//	START\nwave:light\nfrequency:100\ntrials:3\ntext:hello\n
//	ACK\nSTART\n
//	END\n
//	ACK\nEND\n
//	END_TRIALS\n
package handshake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/overwave/pkg/wave"
)

// Command keywords
const (
	CmdStart     = "START"
	CmdEnd       = "END"
	CmdEndTrials = "END_TRIALS"
	CmdAck       = "ACK"
	CmdNack      = "NACK"
)

// Field keys of a START message
const (
	KeyWave      = "wave"
	KeyFrequency = "frequency" // bit duration in milliseconds
	KeyTrials    = "trials"
	KeyText      = "text"
)

// Field is one key:value line.
type Field struct {
	Key   string
	Value string
}

// Message is one protocol message.
type Message struct {
	Command string
	Subject string // command answered by ACK or NACK
	Fields  []Field
}

// IsResponse reports whether the message is an ACK or NACK.
func (m Message) IsResponse() bool {
	return m.Command == CmdAck || m.Command == CmdNack
}

// Get returns the value of the first field named key.
func (m Message) Get(key string) (string, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Bytes renders the message as LF separated lines with no trailing LF.
func (m Message) Bytes() []byte {
	lines := []string{m.Command}
	if m.IsResponse() {
		lines = append(lines, m.Subject)
	}
	for _, f := range m.Fields {
		lines = append(lines, f.Key+":"+f.Value)
	}
	return []byte(strings.Join(lines, "\n"))
}

func (m Message) String() string {
	if m.IsResponse() {
		return m.Command + " " + m.Subject
	}
	if len(m.Fields) == 0 {
		return m.Command
	}
	parts := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		parts[i] = f.Key + "=" + f.Value
	}
	return m.Command + " " + strings.Join(parts, " ")
}

// Ack answers cmd positively.
func Ack(cmd string) Message { return Message{Command: CmdAck, Subject: cmd} }

// Nack answers cmd negatively.
func Nack(cmd string) Message { return Message{Command: CmdNack, Subject: cmd} }

// ProtocolError reports a message that could not be acted upon.
type ProtocolError struct {
	Command string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s: %v", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingField   = errors.New("missing field")
	ErrInvalidField   = errors.New("invalid field")
	ErrNotArmed       = errors.New("receiver not armed")
	ErrRejected       = errors.New("transmission rejected by peer")
)

// Config is the transmission configuration announced by START.
type Config struct {
	Wave        wave.Wave
	BitDuration time.Duration
	Trials      int
	Text        string
}

// Validate checks the bounds a sender must respect before announcing.
func (c Config) Validate() error {
	if c.BitDuration < time.Millisecond {
		return fmt.Errorf("%w: bit duration %v below 1ms", ErrInvalidField, c.BitDuration)
	}
	if c.Trials < 1 {
		return fmt.Errorf("%w: trials must be at least 1", ErrInvalidField)
	}
	if strings.ContainsAny(c.Text, "\r\n") {
		return fmt.Errorf("%w: text must be a single line", ErrInvalidField)
	}
	return nil
}

// Message builds the START message for c.
func (c Config) Message() Message {
	return Message{
		Command: CmdStart,
		Fields: []Field{
			{KeyWave, c.Wave.String()},
			{KeyFrequency, strconv.FormatInt(c.BitDuration.Milliseconds(), 10)},
			{KeyTrials, strconv.Itoa(c.Trials)},
			{KeyText, c.Text},
		},
	}
}

// ParseConfig extracts the configuration from a START message. Wave and
// frequency are required; trials defaults to 1 and text to empty.
func ParseConfig(m Message) (Config, error) {
	fail := func(err error) (Config, error) {
		return Config{}, &ProtocolError{Command: m.Command, Err: err}
	}
	if m.Command != CmdStart {
		return fail(fmt.Errorf("%w: expected %s", ErrUnknownCommand, CmdStart))
	}

	var cfg Config
	w, ok := m.Get(KeyWave)
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrMissingField, KeyWave))
	}
	parsed, err := wave.Parse(w)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidField, err))
	}
	cfg.Wave = parsed

	f, ok := m.Get(KeyFrequency)
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrMissingField, KeyFrequency))
	}
	ms, err := strconv.Atoi(strings.TrimSpace(f))
	if err != nil || ms <= 0 {
		return fail(fmt.Errorf("%w: frequency %q", ErrInvalidField, f))
	}
	cfg.BitDuration = time.Duration(ms) * time.Millisecond

	cfg.Trials = 1
	if t, ok := m.Get(KeyTrials); ok {
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil || n < 1 {
			return fail(fmt.Errorf("%w: trials %q", ErrInvalidField, t))
		}
		cfg.Trials = n
	}

	cfg.Text, _ = m.Get(KeyText)
	return cfg, nil
}
