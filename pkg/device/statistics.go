// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/overwave/pkg/frame"
	"github.com/Thermoquad/overwave/pkg/handshake"
)

// Statistics tracks received trials and how well they matched the text the
// sender announced.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Trials      uint64
	Received    uint64 // decoded to some text
	Matches     uint64 // decoded text equals the announced text
	NoData      uint64 // capture held only silence
	Corrupt     uint64 // frame found but undecodable
	TotalChars  uint64
	MatchedChar uint64
	Samples     uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one trial result
func (s *Statistics) Update(res handshake.Result) {
	s.Trials++
	s.Samples += uint64(res.Samples)
	s.LastUpdateTime = time.Now()

	expected := []rune(res.Config.Text)
	s.TotalChars += uint64(len(expected))

	if res.Err != nil {
		if errors.Is(res.Err, frame.ErrNoData) {
			s.NoData++
		} else {
			s.Corrupt++
		}
		return
	}

	s.Received++
	if res.Text == res.Config.Text {
		s.Matches++
	}
	got := []rune(res.Text)
	for i := 0; i < len(expected) && i < len(got); i++ {
		if expected[i] == got[i] {
			s.MatchedChar++
		}
	}
}

// SuccessRate is the share of trials decoded exactly, in percent.
func (s *Statistics) SuccessRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Matches) * 100 / float64(s.Trials)
}

// CharAccuracy is the share of announced characters received in place, in percent.
func (s *Statistics) CharAccuracy() float64 {
	if s.TotalChars == 0 {
		return 0
	}
	return float64(s.MatchedChar) * 100 / float64(s.TotalChars)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Trials:          %8d\n", s.Trials)
	result += fmt.Sprintf("Received:        %8d\n", s.Received)
	result += fmt.Sprintf("Exact Matches:   %8d (%.1f%%)\n", s.Matches, s.SuccessRate())
	if s.NoData > 0 {
		result += fmt.Sprintf("No Data:         %8d\n", s.NoData)
	}
	if s.Corrupt > 0 {
		result += fmt.Sprintf("Corrupt Frames:  %8d\n", s.Corrupt)
	}
	result += fmt.Sprintf("Char Accuracy:   %8.1f%%\n", s.CharAccuracy())
	result += fmt.Sprintf("Samples:         %8d\n", s.Samples)
	result += "================================\n"
	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
