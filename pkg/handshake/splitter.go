// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package handshake

import "strings"

var startKeys = []string{KeyWave, KeyFrequency, KeyTrials, KeyText}

// Splitter reassembles messages from a byte stream. There is no length
// prefix and the last line of a message carries no terminator, so every chunk
// handed to Feed is taken to end on a line boundary. A line that is not
// key:value starts a new message, ACK and NACK take exactly one subject line,
// and a START is complete once all of its fields arrived. Anything still open
// when a chunk ends is flushed, except an ACK or NACK still missing its
// subject.
type Splitter struct {
	current *Message
	pending bool // current is ACK/NACK waiting for its subject
}

// Feed consumes a chunk and returns the messages it completed.
func (s *Splitter) Feed(data []byte) []Message {
	var out []Message
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		out = s.line(line, out)
	}

	if s.current != nil && !s.pending {
		out = append(out, *s.current)
		s.current = nil
	}
	return out
}

// Reset drops any partial message.
func (s *Splitter) Reset() {
	s.current = nil
	s.pending = false
}

func (s *Splitter) line(line string, out []Message) []Message {
	if s.pending {
		s.current.Subject = line
		s.pending = false
		out = append(out, *s.current)
		s.current = nil
		return out
	}

	if key, value, ok := strings.Cut(line, ":"); ok && s.current != nil {
		s.current.Fields = append(s.current.Fields, Field{Key: key, Value: value})
		if s.current.Command == CmdStart && hasAll(s.current, startKeys) {
			out = append(out, *s.current)
			s.current = nil
		}
		return out
	}

	if s.current != nil {
		out = append(out, *s.current)
	}
	s.current = &Message{Command: line}
	s.pending = s.current.IsResponse()
	return out
}

func hasAll(m *Message, keys []string) bool {
	for _, k := range keys {
		if _, ok := m.Get(k); !ok {
			return false
		}
	}
	return true
}
