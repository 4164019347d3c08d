// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"sort"
	"time"
)

// Levels maps actuator amplitudes onto sensor readings.
type Levels struct {
	Off float64
	On  float64
}

// Value returns the reading for an amplitude, linear between Off and On.
func (l Levels) Value(amplitude uint8) float64 {
	return l.Off + (l.On-l.Off)*float64(amplitude)/float64(MaxAmplitude)
}

type change struct {
	at    int64
	value float64
}

// Timeline is a piecewise-constant signal built from level changes.
// It reads Initial before the first change.
type Timeline struct {
	Initial float64
	changes []change
}

// Set records that the signal takes value from time at onwards. Changes must
// be recorded in time order; an equal timestamp replaces the previous change.
func (tl *Timeline) Set(at int64, value float64) {
	if n := len(tl.changes); n > 0 && tl.changes[n-1].at == at {
		tl.changes[n-1].value = value
		return
	}
	tl.changes = append(tl.changes, change{at: at, value: value})
}

// ValueAt returns the signal at time t.
func (tl *Timeline) ValueAt(t int64) float64 {
	i := sort.Search(len(tl.changes), func(i int) bool { return tl.changes[i].at > t })
	if i == 0 {
		return tl.Initial
	}
	return tl.changes[i-1].value
}

// Sample reads the signal every period over [from, to).
func (tl *Timeline) Sample(from, to int64, period time.Duration) []Sample {
	if period <= 0 || to <= from {
		return nil
	}
	out := make([]Sample, 0, (to-from)/int64(period)+1)
	for t := from; t < to; t += int64(period) {
		out = append(out, Sample{Timestamp: t, Value: tl.ValueAt(t)})
	}
	return out
}

// Synthesize renders a noise-free capture of pattern: silence for pad,
// the pattern starting at start+pad, then silence for pad again.
func Synthesize(p Pattern, levels Levels, start int64, pad, period time.Duration) []Sample {
	tl := Timeline{Initial: levels.Off}
	t := start + int64(pad)
	for _, seg := range p {
		tl.Set(t, levels.Value(seg.Amplitude))
		t += int64(seg.Duration)
	}
	tl.Set(t, levels.Off)
	return tl.Sample(start, t+int64(pad), period)
}
