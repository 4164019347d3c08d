// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/overwave/internal/config"
	"github.com/Thermoquad/overwave/internal/logging"
	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/wave"
)

func setup(t *testing.T) {
	t.Helper()
	cfg = config.GetDefaultConfig()
	cfg.Link.RestartDelay = 5 * time.Millisecond
	logger = logging.Discard()
}

func TestTransmissionConfig(t *testing.T) {
	setup(t)

	cfg.Transmission.Wave = "vibration"
	cfg.Transmission.Trials = 2
	tc, err := transmissionConfig("hello")
	if err != nil {
		t.Fatal(err)
	}
	if tc.Wave != wave.Vibration || tc.Trials != 2 || tc.Text != "hello" {
		t.Errorf("config = %+v", tc)
	}
	if tc.BitDuration != wave.ProfileFor(wave.Vibration).DefaultBitDuration {
		t.Errorf("bit duration = %v, want the wave default", tc.BitDuration)
	}

	cfg.Transmission.BitDuration = 40 * time.Millisecond
	if tc, _ = transmissionConfig("hello"); tc.BitDuration != 40*time.Millisecond {
		t.Errorf("bit duration = %v, want 40ms", tc.BitDuration)
	}

	cfg.Transmission.Trials = 0
	if _, err := transmissionConfig("hello"); err == nil {
		t.Error("expected an error for zero trials")
	}
}

func TestOpenActuators(t *testing.T) {
	tests := []struct {
		name     string
		bindings map[string]string
		want     []wave.Wave
		wantErr  bool
	}{
		{"empty", nil, nil, false},
		{"led", map[string]string{"light": "led:white:flash"}, []wave.Wave{wave.Light}, false},
		{"both", map[string]string{"light": "led:torch", "brightness": "backlight:intel_backlight"}, []wave.Wave{wave.Light, wave.Brightness}, false},
		{"unknown wave", map[string]string{"smell": "led:x"}, nil, true},
		{"unknown binding", map[string]string{"sound": "alsa:default"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acts, err := openActuators(tt.bindings)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(acts) != len(tt.want) {
				t.Fatalf("got %d actuators, want %d", len(acts), len(tt.want))
			}
			for _, w := range tt.want {
				if _, ok := acts[w]; !ok {
					t.Errorf("no actuator for %s", w)
				}
			}
		})
	}
}

func TestDescribeResult(t *testing.T) {
	c := handshake.Config{Wave: wave.Sound, Text: "hey"}
	tests := []struct {
		res  handshake.Result
		want string
	}{
		{handshake.Result{Config: c, Text: "hey"}, `sound: "hey" (match)`},
		{handshake.Result{Config: c, Text: "hex"}, `sound: "hex" (expected "hey")`},
		{handshake.Result{Config: c, Samples: 12, Err: device.ErrNothingReceived}, "sound: nothing decoded (12 samples)"},
	}
	for _, tt := range tests {
		if got := describeResult(tt.res); got != tt.want {
			t.Errorf("describeResult = %q, want %q", got, tt.want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{4 * time.Second, "4s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestSimulation(t *testing.T) {
	for _, w := range []wave.Wave{wave.Light, wave.Vibration} {
		t.Run(w.String(), func(t *testing.T) {
			setup(t)
			tc := handshake.Config{
				Wave:        w,
				BitDuration: wave.ProfileFor(w).DefaultBitDuration,
				Trials:      2,
				Text:        "ping",
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			sim := newSimulation(ctx, tc, device.NewVirtualClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
			if err := sim.run(ctx); err != nil {
				t.Fatalf("run: %v", err)
			}
			if n := len(sim.results); n != 2 {
				t.Fatalf("got %d results, want 2", n)
			}
			for len(sim.results) > 0 {
				res := <-sim.results
				if res.Err != nil || res.Text != "ping" {
					t.Errorf("result = %q, %v", res.Text, res.Err)
				}
			}
			if sim.stats.Matches != 2 {
				t.Errorf("matches = %d, want 2", sim.stats.Matches)
			}
		})
	}
}

func TestSynthesizedCaptureDecodes(t *testing.T) {
	setup(t)
	for _, w := range wave.All() {
		t.Run(w.String(), func(t *testing.T) {
			tc := handshake.Config{Wave: w, BitDuration: wave.ProfileFor(w).DefaultBitDuration, Trials: 1, Text: "abc"}
			c, err := synthesizeCapture(tc)
			if err != nil {
				t.Fatal(err)
			}
			if c.Wave != w.String() || len(c.Samples) == 0 {
				t.Fatalf("capture = %s with %d samples", c.Wave, len(c.Samples))
			}

			res, err := decodeCapture(device.NewReceiver(nil, device.ReceiverOptions{}), c)
			if err != nil {
				t.Fatal(err)
			}
			if res.Err != nil || res.Text != "abc" {
				t.Errorf("decoded %q, %v", res.Text, res.Err)
			}
		})
	}
}

func TestDecodeCaptureUnknownWave(t *testing.T) {
	setup(t)
	c, err := synthesizeCapture(handshake.Config{Wave: wave.Light, BitDuration: 100 * time.Millisecond, Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	c.Wave = "smell"
	if _, err = decodeCapture(device.NewReceiver(nil, device.ReceiverOptions{}), c); err == nil {
		t.Error("expected an error for an unknown wave")
	}
}

func TestControlSessionConfig(t *testing.T) {
	setup(t)
	m := initialControlModel(&sessionManager{}, "test", []wave.Wave{wave.Light, wave.Sound})
	m.messageInput.SetValue("hi")

	tc, err := m.sessionConfig()
	if err != nil {
		t.Fatal(err)
	}
	if tc.Wave != wave.Light || tc.Trials != cfg.Transmission.Trials || tc.Text != "hi" {
		t.Errorf("config = %+v", tc)
	}

	m.waveList.Select(1)
	m.trialsInput.SetValue("3")
	if tc, err = m.sessionConfig(); err != nil || tc.Wave != wave.Sound || tc.Trials != 3 {
		t.Errorf("config = %+v, %v", tc, err)
	}
	if tc.BitDuration != wave.ProfileFor(wave.Sound).DefaultBitDuration {
		t.Errorf("bit duration = %v", tc.BitDuration)
	}

	for _, bad := range []string{"0", "abc", "101"} {
		m.trialsInput.SetValue(bad)
		if _, err := m.sessionConfig(); err == nil || !strings.Contains(err.Error(), "trials") {
			t.Errorf("trials %q: err = %v", bad, err)
		}
	}
}

func TestSessionManagerRequiresLink(t *testing.T) {
	setup(t)
	sm := &sessionManager{ctx: context.Background()}
	sm.p = newPeer(nil, nil, logger, sm.observe)
	defer sm.p.close()

	err := sm.begin(handshake.Config{Wave: wave.Light, BitDuration: time.Millisecond, Trials: 1, Text: "x"})
	if !errors.Is(err, errNotConnected) {
		t.Errorf("begin = %v, want errNotConnected", err)
	}
}
