// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import "math"

// RunningStats accumulates mean and variance in one pass (Welford).
type RunningStats struct {
	n    int
	mean float64
	m2   float64
}

// Push adds a value.
func (s *RunningStats) Push(x float64) {
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
}

// Count returns the number of values pushed.
func (s *RunningStats) Count() int { return s.n }

// Mean returns the running mean, 0 when empty.
func (s *RunningStats) Mean() float64 { return s.mean }

// Variance returns the sample variance (n-1), 0 with fewer than two values.
func (s *RunningStats) Variance() float64 {
	if s.n < 2 {
		return 0
	}
	return s.m2 / float64(s.n-1)
}

// StdDev returns the sample standard deviation.
func (s *RunningStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// Reset clears all accumulated values.
func (s *RunningStats) Reset() {
	*s = RunningStats{}
}
