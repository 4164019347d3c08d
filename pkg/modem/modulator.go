// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package modem turns frame bits into actuator timing patterns and turns
// sensor sample streams back into bits.
package modem

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/overwave/pkg/bitstring"
	"github.com/Thermoquad/overwave/pkg/wave"
)

// MaxAmplitude is the actuator level used for "on".
const MaxAmplitude uint8 = 255

// ErrBitDuration is returned for a non-positive bit duration.
var ErrBitDuration = errors.New("bit duration must be positive")

// Level is the logical state of the actuator during a segment.
type Level int

const (
	Off Level = iota
	On
)

func (l Level) String() string {
	if l == On {
		return "on"
	}
	return "off"
}

// Segment holds one actuator level for a duration.
type Segment struct {
	Duration  time.Duration
	Level     Level
	Amplitude uint8
}

// Pattern is the timing pattern replayed by an actuator.
type Pattern []Segment

// Total returns the summed duration of all segments.
func (p Pattern) Total() time.Duration {
	var total time.Duration
	for _, s := range p {
		total += s.Duration
	}
	return total
}

// Durations returns the segment durations in order.
func (p Pattern) Durations() []time.Duration {
	out := make([]time.Duration, len(p))
	for i, s := range p {
		out[i] = s.Duration
	}
	return out
}

// Amplitudes returns the segment amplitudes in order.
func (p Pattern) Amplitudes() []uint8 {
	out := make([]uint8, len(p))
	for i, s := range p {
		out[i] = s.Amplitude
	}
	return out
}

func (p Pattern) String() string {
	s := ""
	for i, seg := range p {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s:%v", seg.Level, seg.Duration)
	}
	return s
}

func segment(l Level, d time.Duration) Segment {
	s := Segment{Duration: d, Level: l}
	if l == On {
		s.Amplitude = MaxAmplitude
	}
	return s
}

// Modulator converts frame bits to a timing pattern.
type Modulator interface {
	Modulate(bits bitstring.Bits, bitDuration time.Duration) (Pattern, error)
}

// OnOffKeying holds the actuator on for every 1 bit and off for every 0 bit.
// Consecutive equal bits merge into one segment.
type OnOffKeying struct{}

// Modulate implements Modulator.
func (OnOffKeying) Modulate(bits bitstring.Bits, bitDuration time.Duration) (Pattern, error) {
	if bitDuration <= 0 {
		return nil, ErrBitDuration
	}
	runs := bits.Runs()
	p := make(Pattern, 0, len(runs))
	for _, r := range runs {
		l := Off
		if r.Bit == '1' {
			l = On
		}
		p = append(p, segment(l, time.Duration(r.Count)*bitDuration))
	}
	return p, nil
}

// TransitionShiftKeying emits a fixed-width pulse per bit followed by a
// silence of ShortGap bit durations for a 0 or LongGap for a 1. A closing
// pulse ends the last gap.
type TransitionShiftKeying struct {
	Pulse    time.Duration
	ShortGap int
	LongGap  int
}

func (k TransitionShiftKeying) gap(bit byte, d time.Duration) time.Duration {
	if bit == '1' {
		return time.Duration(k.LongGap) * d
	}
	return time.Duration(k.ShortGap) * d
}

// Modulate implements Modulator.
func (k TransitionShiftKeying) Modulate(bits bitstring.Bits, bitDuration time.Duration) (Pattern, error) {
	if bitDuration <= 0 {
		return nil, ErrBitDuration
	}
	if k.Pulse <= 0 || k.ShortGap <= 0 || k.LongGap <= k.ShortGap {
		return nil, fmt.Errorf("invalid transition-shift parameters %+v", k)
	}
	if len(bits) == 0 {
		return Pattern{}, nil
	}
	p := make(Pattern, 0, 2*len(bits)+1)
	for i := 0; i < len(bits); i++ {
		p = append(p, segment(On, k.Pulse), segment(Off, k.gap(bits[i], bitDuration)))
	}
	return append(p, segment(On, k.Pulse)), nil
}

// Duration is the closed-form length of the pattern Modulate produces.
func (k TransitionShiftKeying) Duration(bits bitstring.Bits, bitDuration time.Duration) time.Duration {
	if len(bits) == 0 {
		return 0
	}
	ones := bits.Ones()
	zeros := len(bits) - ones
	return k.Pulse*time.Duration(len(bits)+1) +
		bitDuration*time.Duration(k.ShortGap*zeros+k.LongGap*ones)
}

// ForProfile returns the modulator matching a channel profile.
func ForProfile(p wave.Profile) Modulator {
	if p.Keying == wave.TransitionShift {
		return TransitionShiftKeying{Pulse: p.Pulse, ShortGap: p.ShortGap, LongGap: p.LongGap}
	}
	return OnOffKeying{}
}
