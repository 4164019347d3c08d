// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"strings"
	"time"

	"github.com/Thermoquad/overwave/pkg/bitstring"
)

// PulseDemodulator recovers transition-shift keyed bits by timing the
// silence between consecutive pulses.
type PulseDemodulator struct {
	Margin   float64
	ShortGap int
	LongGap  int
}

// Gaps returns the measured silences between pulses, in order.
func (d PulseDemodulator) Gaps(samples []Sample) []time.Duration {
	cal, ok := Calibrate(samples, d.Margin)
	if !ok {
		return nil
	}
	trimmed := Trim(samples, cal.NoiseFloor)

	var gaps []time.Duration
	high := false
	var fall int64
	seenPulse := false
	for _, s := range trimmed {
		above := s.Value > cal.Threshold
		switch {
		case above && !high:
			if seenPulse {
				gaps = append(gaps, time.Duration(s.Timestamp-fall))
			}
			seenPulse = true
		case !above && high:
			fall = s.Timestamp
		}
		high = above
	}
	return gaps
}

// Demodulate implements BitDemodulator.
func (d PulseDemodulator) Demodulate(samples []Sample, bitDuration time.Duration) bitstring.Bits {
	gaps := d.Gaps(samples)
	// twice the decision boundary, to stay in integers
	boundary := time.Duration(d.ShortGap+d.LongGap) * bitDuration
	var sb strings.Builder
	sb.Grow(len(gaps))
	for _, g := range gaps {
		if 2*g > boundary {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return bitstring.Bits(sb.String())
}
