// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wave

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Wave
		ok   bool
	}{
		{"light", Light, true},
		{"LIGHT", Light, true},
		{" Vibration ", Vibration, true},
		{"sound", Sound, true},
		{"brightness", Brightness, true},
		{"smoke", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("Parse(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, w := range All() {
		text, err := w.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", w, err)
		}
		var back Wave
		if err := back.UnmarshalText(text); err != nil || back != w {
			t.Errorf("UnmarshalText(%s) = %v, %v", text, back, err)
		}
	}
	if _, err := Wave(42).MarshalText(); err == nil {
		t.Error("MarshalText should reject unknown waves")
	}
}

func TestProfiles(t *testing.T) {
	for _, w := range All() {
		p := ProfileFor(w)
		if p.Wave != w {
			t.Errorf("ProfileFor(%v).Wave = %v", w, p.Wave)
		}
		if p.DefaultBitDuration <= 0 || p.SamplingPeriod <= 0 {
			t.Errorf("%v: non-positive timing in profile %+v", w, p)
		}
		if p.SamplingPeriod >= p.DefaultBitDuration {
			t.Errorf("%v: sampling period must be shorter than a bit", w)
		}
	}

	v := ProfileFor(Vibration)
	if v.Keying != TransitionShift || !v.Codec.Hamming || v.ShortGap >= v.LongGap {
		t.Errorf("vibration profile = %+v", v)
	}
	if ProfileFor(Light).Codec.Repeat != 2 {
		t.Error("light frames are doubled")
	}
}
