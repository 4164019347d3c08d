// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"strings"
	"time"

	"github.com/Thermoquad/overwave/pkg/bitstring"
	"github.com/Thermoquad/overwave/pkg/wave"
)

// Sample is one sensor reading. Timestamp is monotonic, in nanoseconds.
type Sample struct {
	_         struct{} `cbor:",toarray"`
	Timestamp int64
	Value     float64
}

// NewSample builds a Sample.
func NewSample(ts int64, v float64) Sample {
	return Sample{Timestamp: ts, Value: v}
}

// Calibration holds the levels derived from a capture.
type Calibration struct {
	Baseline   float64 // first sample, assumed to be the idle channel
	NoiseFloor float64
	Threshold  float64 // midpoint of min and max
	Min, Max   float64
}

// Calibrate derives the noise floor and decision threshold of a capture.
// ok is false for an empty capture.
func Calibrate(samples []Sample, margin float64) (cal Calibration, ok bool) {
	if len(samples) == 0 {
		return Calibration{}, false
	}
	cal.Baseline = samples[0].Value
	cal.NoiseFloor = cal.Baseline + margin
	cal.Min, cal.Max = samples[0].Value, samples[0].Value
	for _, s := range samples[1:] {
		if s.Value < cal.Min {
			cal.Min = s.Value
		}
		if s.Value > cal.Max {
			cal.Max = s.Value
		}
	}
	cal.Threshold = (cal.Min + cal.Max) / 2
	return cal, true
}

// Trim drops the leading samples below floor.
func Trim(samples []Sample, floor float64) []Sample {
	for i, s := range samples {
		if s.Value >= floor {
			return samples[i:]
		}
	}
	return nil
}

// Bucket is the mean level of one bit window.
type Bucket struct {
	Start int64
	Mean  float64
	Count int
}

// Bucketize splits samples into consecutive windows of the given width,
// anchored on the first sample, and averages each. A window that caught no
// sample repeats the previous mean.
func Bucketize(samples []Sample, window time.Duration) []Bucket {
	if len(samples) == 0 || window <= 0 {
		return nil
	}
	w := int64(window)
	t0 := samples[0].Timestamp

	var buckets []Bucket
	var stats RunningStats
	current := int64(0)
	flush := func() {
		b := Bucket{Start: t0 + current*w, Mean: stats.Mean(), Count: stats.Count()}
		if b.Count == 0 && len(buckets) > 0 {
			b.Mean = buckets[len(buckets)-1].Mean
		}
		buckets = append(buckets, b)
		stats.Reset()
	}

	for _, s := range samples {
		idx := (s.Timestamp - t0) / w
		for current < idx {
			flush()
			current++
		}
		stats.Push(s.Value)
	}
	flush()
	return buckets
}

// ToBits thresholds every bucket mean.
func ToBits(buckets []Bucket, threshold float64, polarity wave.Polarity) bitstring.Bits {
	high, low := byte('1'), byte('0')
	if polarity == wave.HighIsZero {
		high, low = low, high
	}
	var sb strings.Builder
	sb.Grow(len(buckets))
	for _, b := range buckets {
		if b.Mean > threshold {
			sb.WriteByte(high)
		} else {
			sb.WriteByte(low)
		}
	}
	return bitstring.Bits(sb.String())
}

// Demodulator recovers on/off keyed bits.
type Demodulator struct {
	Margin   float64
	Latency  time.Duration
	Polarity wave.Polarity
}

// Demodulate returns the bits of an on/off keyed capture. An empty capture,
// or one that never rises above the noise floor, yields no bits.
func (d Demodulator) Demodulate(samples []Sample, bitDuration time.Duration) bitstring.Bits {
	cal, ok := Calibrate(samples, d.Margin)
	if !ok {
		return ""
	}
	trimmed := Trim(samples, cal.NoiseFloor)
	if len(trimmed) == 0 {
		return ""
	}
	return ToBits(Bucketize(trimmed, bitDuration+d.Latency), cal.Threshold, d.Polarity)
}

// BitDemodulator is implemented by both keying schemes.
type BitDemodulator interface {
	Demodulate(samples []Sample, bitDuration time.Duration) bitstring.Bits
}

// DemodulatorFor returns the demodulator matching a channel profile.
func DemodulatorFor(p wave.Profile) BitDemodulator {
	if p.Keying == wave.TransitionShift {
		return PulseDemodulator{Margin: p.ErrorMargin, ShortGap: p.ShortGap, LongGap: p.LongGap}
	}
	return Demodulator{Margin: p.ErrorMargin, Latency: p.Latency, Polarity: p.Polarity}
}
