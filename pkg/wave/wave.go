// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wave names the physical side-channels and holds the fixed
// per-channel parameters both ends agree on out of band.
package wave

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/overwave/pkg/frame"
)

// Wave is a physical channel.
type Wave int

const (
	Light Wave = iota
	Vibration
	Sound
	Brightness
)

var waveNames = map[Wave]string{
	Light:      "light",
	Vibration:  "vibration",
	Sound:      "sound",
	Brightness: "brightness",
}

// All lists every wave in declaration order.
func All() []Wave {
	return []Wave{Light, Vibration, Sound, Brightness}
}

func (w Wave) String() string {
	if name, ok := waveNames[w]; ok {
		return name
	}
	return fmt.Sprintf("wave(%d)", int(w))
}

// Parse accepts a wave name in any letter case.
func Parse(s string) (Wave, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for w, name := range waveNames {
		if name == s {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unknown wave %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (w Wave) MarshalText() ([]byte, error) {
	if _, ok := waveNames[w]; !ok {
		return nil, fmt.Errorf("unknown wave %d", int(w))
	}
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Wave) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Keying selects how bits become a timing pattern.
type Keying int

const (
	OnOff           Keying = iota // level held for the bit duration
	TransitionShift               // bit carried by the silence between pulses
)

func (k Keying) String() string {
	if k == TransitionShift {
		return "ttsk"
	}
	return "ook"
}

// Polarity maps a level above threshold to a bit value.
type Polarity int

const (
	HighIsOne Polarity = iota
	HighIsZero
)

// Profile is the fixed parameter set of one channel.
type Profile struct {
	Wave   Wave
	Keying Keying
	Codec  frame.Codec

	// Demodulation
	ErrorMargin    float64       // added to the first sample to get the noise floor
	Latency        time.Duration // per-bit actuation latency added to the bucket window
	Polarity       Polarity
	SamplingPeriod time.Duration

	// Transition-shift keying
	Pulse    time.Duration
	ShortGap int // bit durations of silence for a 0
	LongGap  int // bit durations of silence for a 1

	DefaultBitDuration time.Duration
}

var profiles = map[Wave]Profile{
	Light: {
		Wave:               Light,
		Keying:             OnOff,
		Codec:              frame.Doubled,
		ErrorMargin:        400,
		Latency:            8 * time.Millisecond,
		SamplingPeriod:     30 * time.Millisecond,
		DefaultBitDuration: 100 * time.Millisecond,
	},
	Brightness: {
		Wave:               Brightness,
		Keying:             OnOff,
		Codec:              frame.Doubled,
		ErrorMargin:        1.0,
		Latency:            4 * time.Millisecond,
		SamplingPeriod:     30 * time.Millisecond,
		DefaultBitDuration: 200 * time.Millisecond,
	},
	Sound: {
		Wave:               Sound,
		Keying:             OnOff,
		Codec:              frame.Doubled,
		ErrorMargin:        0.05,
		SamplingPeriod:     10 * time.Millisecond,
		DefaultBitDuration: 50 * time.Millisecond,
	},
	Vibration: {
		Wave:               Vibration,
		Keying:             TransitionShift,
		Codec:              frame.Codec{Repeat: 1, Hamming: true},
		ErrorMargin:        0.005,
		Latency:            3 * time.Millisecond,
		SamplingPeriod:     10 * time.Millisecond,
		Pulse:              200 * time.Millisecond,
		ShortGap:           3,
		LongGap:            8,
		DefaultBitDuration: 200 * time.Millisecond,
	},
}

// ProfileFor returns the profile of w. Unknown waves get the light profile
// with their own name.
func ProfileFor(w Wave) Profile {
	p, ok := profiles[w]
	if !ok {
		p = profiles[Light]
		p.Wave = w
	}
	return p
}
