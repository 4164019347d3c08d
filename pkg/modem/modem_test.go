// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/overwave/pkg/bitstring"
	"github.com/Thermoquad/overwave/pkg/wave"
)

func TestOnOffKeying(t *testing.T) {
	tests := []struct {
		bits bitstring.Bits
		want []Segment
	}{
		{"1100010", []Segment{
			{Duration: 20 * time.Millisecond, Level: On, Amplitude: 255},
			{Duration: 30 * time.Millisecond, Level: Off},
			{Duration: 10 * time.Millisecond, Level: On, Amplitude: 255},
			{Duration: 10 * time.Millisecond, Level: Off},
		}},
		{"0011", []Segment{
			{Duration: 20 * time.Millisecond, Level: Off},
			{Duration: 20 * time.Millisecond, Level: On, Amplitude: 255},
		}},
		{"", []Segment{}},
	}
	for _, tt := range tests {
		p, err := OnOffKeying{}.Modulate(tt.bits, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Modulate(%s): %v", tt.bits, err)
		}
		if len(p) != len(tt.want) {
			t.Fatalf("Modulate(%s) = %v", tt.bits, p)
		}
		for i := range p {
			if p[i] != tt.want[i] {
				t.Errorf("Modulate(%s)[%d] = %+v, want %+v", tt.bits, i, p[i], tt.want[i])
			}
		}
		if want := time.Duration(len(tt.bits)) * 10 * time.Millisecond; p.Total() != want {
			t.Errorf("Total() = %v, want %v", p.Total(), want)
		}
	}
}

func TestModulatorRejectsBadDuration(t *testing.T) {
	if _, err := (OnOffKeying{}).Modulate("1", 0); err == nil {
		t.Error("OOK should reject a zero bit duration")
	}
	k := TransitionShiftKeying{Pulse: time.Millisecond, ShortGap: 3, LongGap: 8}
	if _, err := k.Modulate("1", -time.Second); err == nil {
		t.Error("TTSK should reject a negative bit duration")
	}
}

func TestTransitionShiftKeying(t *testing.T) {
	k := TransitionShiftKeying{Pulse: 5 * time.Millisecond, ShortGap: 3, LongGap: 8}
	p, err := k.Modulate("01", 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	wantDur := []time.Duration{5, 30, 5, 80, 5}
	wantAmp := []uint8{255, 0, 255, 0, 255}
	if len(p) != len(wantDur) {
		t.Fatalf("pattern = %v", p)
	}
	for i := range p {
		if p[i].Duration != wantDur[i]*time.Millisecond || p[i].Amplitude != wantAmp[i] {
			t.Errorf("segment %d = %+v", i, p[i])
		}
	}
	if p.Total() != 125*time.Millisecond || k.Duration("01", 10*time.Millisecond) != p.Total() {
		t.Errorf("Total() = %v, Duration() = %v", p.Total(), k.Duration("01", 10*time.Millisecond))
	}
}

func TestTransitionShiftDurationClosedForm(t *testing.T) {
	k := TransitionShiftKeying{Pulse: 200 * time.Millisecond, ShortGap: 3, LongGap: 8}
	for _, bits := range []bitstring.Bits{"0", "1", "1011", "0000000", "1111110101"} {
		p, err := k.Modulate(bits, 7*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if got := k.Duration(bits, 7*time.Millisecond); got != p.Total() {
			t.Errorf("%s: Duration() = %v, Total() = %v", bits, got, p.Total())
		}
	}
}

func TestRunningStats(t *testing.T) {
	var s RunningStats
	if s.Mean() != 0 || s.Variance() != 0 {
		t.Error("empty stats should be zero")
	}
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Push(v)
	}
	if s.Count() != 8 || s.Mean() != 5 {
		t.Errorf("count=%d mean=%v", s.Count(), s.Mean())
	}
	if math.Abs(s.Variance()-32.0/7.0) > 1e-9 {
		t.Errorf("variance = %v, want %v", s.Variance(), 32.0/7.0)
	}
	if math.Abs(s.StdDev()-math.Sqrt(32.0/7.0)) > 1e-9 {
		t.Errorf("stddev = %v", s.StdDev())
	}
	s.Reset()
	if s.Count() != 0 {
		t.Error("Reset should clear the count")
	}
}

func TestCalibrateAndTrim(t *testing.T) {
	samples := []Sample{
		{Timestamp: 0, Value: 100},
		{Timestamp: 1, Value: 120},
		{Timestamp: 2, Value: 900},
		{Timestamp: 3, Value: 100},
	}
	cal, ok := Calibrate(samples, 400)
	if !ok {
		t.Fatal("Calibrate failed")
	}
	if cal.NoiseFloor != 500 || cal.Threshold != 500 || cal.Min != 100 || cal.Max != 900 {
		t.Errorf("calibration = %+v", cal)
	}
	trimmed := Trim(samples, cal.NoiseFloor)
	if len(trimmed) != 2 || trimmed[0].Timestamp != 2 {
		t.Errorf("Trim = %v", trimmed)
	}
	if _, ok := Calibrate(nil, 1); ok {
		t.Error("Calibrate(nil) should not be ok")
	}
}

func TestBucketizeRepeatsEmptyWindows(t *testing.T) {
	samples := []Sample{
		{Timestamp: 0, Value: 10},
		{Timestamp: 5, Value: 20},
		{Timestamp: 25, Value: 0},
	}
	buckets := Bucketize(samples, 10)
	if len(buckets) != 3 {
		t.Fatalf("buckets = %+v", buckets)
	}
	if buckets[0].Mean != 15 || buckets[1].Mean != 15 || buckets[1].Count != 0 || buckets[2].Mean != 0 {
		t.Errorf("buckets = %+v", buckets)
	}
	if buckets[2].Start != 20 {
		t.Errorf("third bucket starts at %d", buckets[2].Start)
	}
}

func TestToBitsPolarity(t *testing.T) {
	buckets := []Bucket{{Mean: 1}, {Mean: 9}, {Mean: 5}}
	if got := ToBits(buckets, 5, wave.HighIsOne); got != "010" {
		t.Errorf("HighIsOne = %s", got)
	}
	if got := ToBits(buckets, 5, wave.HighIsZero); got != "101" {
		t.Errorf("HighIsZero = %s", got)
	}
}

func TestDemodulateEmpty(t *testing.T) {
	d := Demodulator{Margin: 400}
	if bits := d.Demodulate(nil, 100*time.Millisecond); bits != "" {
		t.Errorf("empty capture = %s", bits)
	}
	flat := Synthesize(nil, Levels{Off: 100, On: 1000}, 0, time.Second, 10*time.Millisecond)
	if bits := d.Demodulate(flat, 100*time.Millisecond); bits != "" {
		t.Errorf("flat capture = %s", bits)
	}
}

func TestOOKSyntheticRecovery(t *testing.T) {
	codec := wave.ProfileFor(wave.Light).Codec
	bits := codec.EncodeString("hi")
	d := 100 * time.Millisecond
	p, err := OnOffKeying{}.Modulate(bits, d)
	if err != nil {
		t.Fatal(err)
	}
	samples := Synthesize(p, Levels{Off: 100, On: 1000}, 1_000_000, 500*time.Millisecond, 10*time.Millisecond)

	got := Demodulator{Margin: 400}.Demodulate(samples, d)
	want := bits + bitstring.Bits(strings.Repeat("0", 5))
	if got != want {
		t.Fatalf("Demodulate =\n%s\nwant\n%s", got, want)
	}
	text, err := codec.DecodeString(got)
	if err != nil || text != "hi" {
		t.Errorf("DecodeString = %q, %v", text, err)
	}
}

func TestOOKLatencyCorrection(t *testing.T) {
	codec := wave.ProfileFor(wave.Light).Codec
	bits := codec.EncodeString("latency")
	d := 100 * time.Millisecond
	latency := 8 * time.Millisecond

	// The hardware holds every bit for d+latency
	p, _ := OnOffKeying{}.Modulate(bits, d+latency)
	samples := Synthesize(p, Levels{Off: 0, On: 1000}, 0, time.Second, 4*time.Millisecond)

	got := Demodulator{Margin: 400, Latency: latency}.Demodulate(samples, d)
	text, err := codec.DecodeString(got)
	if err != nil || text != "latency" {
		t.Errorf("DecodeString = %q, %v", text, err)
	}
}

func TestPulseSyntheticRecovery(t *testing.T) {
	codec := wave.ProfileFor(wave.Vibration).Codec
	bits := codec.EncodeString("hi")
	d := 20 * time.Millisecond
	k := TransitionShiftKeying{Pulse: 40 * time.Millisecond, ShortGap: 3, LongGap: 8}
	p, err := k.Modulate(bits, d)
	if err != nil {
		t.Fatal(err)
	}
	samples := Synthesize(p, Levels{Off: 0.01, On: 1}, 0, 100*time.Millisecond, 5*time.Millisecond)

	demod := PulseDemodulator{Margin: 0.005, ShortGap: 3, LongGap: 8}
	if gaps := demod.Gaps(samples); len(gaps) != len(bits) {
		t.Fatalf("measured %d gaps, want %d", len(gaps), len(bits))
	}
	got := demod.Demodulate(samples, d)
	if got != bits {
		t.Fatalf("Demodulate =\n%s\nwant\n%s", got, bits)
	}
	text, err := codec.DecodeString(got)
	if err != nil || text != "hi" {
		t.Errorf("DecodeString = %q, %v", text, err)
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	profile := wave.ProfileFor(wave.Light)
	d := profile.DefaultBitDuration
	p, _ := ForProfile(profile).Modulate(profile.Codec.EncodeString("cap"), d+profile.Latency)

	c := &Capture{
		Wave:        "light",
		BitDuration: d,
		Text:        "cap",
		Recorded:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Samples:     Synthesize(p, Levels{Off: 50, On: 2000}, 0, time.Second, profile.SamplingPeriod/3),
	}

	var buf bytes.Buffer
	if err := WriteCapture(&buf, c); err != nil {
		t.Fatal(err)
	}
	back, err := ReadCapture(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if back.Wave != c.Wave || back.BitDuration != d || len(back.Samples) != len(c.Samples) || !back.Recorded.Equal(c.Recorded) {
		t.Fatalf("capture mismatch: %+v", back)
	}
	if back.Samples[10] != c.Samples[10] {
		t.Errorf("sample 10 = %+v, want %+v", back.Samples[10], c.Samples[10])
	}
	text, err := back.Demodulate()
	if err != nil || text != "cap" {
		t.Errorf("Demodulate = %q, %v", text, err)
	}

	if _, err := ReadCapture(strings.NewReader("not cbor")); err == nil {
		t.Error("ReadCapture should reject garbage")
	}
}

func TestTimeline(t *testing.T) {
	tl := Timeline{Initial: 1}
	tl.Set(10, 5)
	tl.Set(20, 7)
	tl.Set(20, 8)
	tests := []struct {
		t    int64
		want float64
	}{{0, 1}, {9, 1}, {10, 5}, {19, 5}, {20, 8}, {100, 8}}
	for _, tt := range tests {
		if got := tl.ValueAt(tt.t); got != tt.want {
			t.Errorf("ValueAt(%d) = %v, want %v", tt.t, got, tt.want)
		}
	}
	if n := len(tl.Sample(0, 30, 10)); n != 3 {
		t.Errorf("Sample count = %d", n)
	}
}
