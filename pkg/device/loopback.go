// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/overwave/pkg/modem"
	"github.com/Thermoquad/overwave/pkg/wave"
)

// Loopback is an actuator and a sensor joined by an ideal channel: whatever
// level the actuator applies is what the sensor reads. Each Apply costs the
// profile's latency on the shared clock, as real hardware does.
//
// Samples are rendered from the recorded level timeline when the sensor
// stops, which makes the pair usable with a VirtualClock.
type Loopback struct {
	clock   Clock
	levels  modem.Levels
	latency time.Duration

	mu      sync.Mutex
	tl      modem.Timeline
	applied int
	sensing bool
	start   time.Time
	period  time.Duration
	deliver func(modem.Sample)
}

// NewLoopback creates a loopback channel calibrated for profile: the idle
// level sits at the error margin and "on" ten margins above it.
func NewLoopback(clock Clock, profile wave.Profile) *Loopback {
	off := profile.ErrorMargin
	levels := modem.Levels{Off: off, On: off + 10*profile.ErrorMargin}
	return &Loopback{
		clock:   clock,
		levels:  levels,
		latency: profile.Latency,
		tl:      modem.Timeline{Initial: levels.Off},
	}
}

// Levels returns the readings for off and fully on.
func (l *Loopback) Levels() modem.Levels { return l.levels }

// Applied returns how many times Apply was called.
func (l *Loopback) Applied() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied
}

func (l *Loopback) set(value float64) {
	l.mu.Lock()
	l.tl.Set(Timestamp(l.clock.Now()), value)
	l.mu.Unlock()
}

// Activate implements Actuator.
func (l *Loopback) Activate(ctx context.Context) error { return ctx.Err() }

// Apply implements Actuator.
func (l *Loopback) Apply(amplitude uint8) error {
	if err := l.clock.Sleep(context.Background(), l.latency); err != nil {
		return err
	}
	l.mu.Lock()
	l.applied++
	l.mu.Unlock()
	l.set(l.levels.Value(amplitude))
	return nil
}

// Deactivate implements Actuator.
func (l *Loopback) Deactivate() error {
	l.set(l.levels.Off)
	return nil
}

// Start implements Sensor.
func (l *Loopback) Start(ctx context.Context, period time.Duration, deliver func(modem.Sample)) error {
	if period <= 0 {
		return errors.New("sampling period must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sensing {
		return ErrArmed
	}
	l.sensing, l.start, l.period, l.deliver = true, l.clock.Now(), period, deliver
	return nil
}

// Stop implements Sensor. The samples covering the armed interval are
// delivered before it returns.
func (l *Loopback) Stop() error {
	l.mu.Lock()
	if !l.sensing {
		l.mu.Unlock()
		return nil
	}
	l.sensing = false
	samples := l.tl.Sample(Timestamp(l.start), Timestamp(l.clock.Now()), l.period)
	deliver := l.deliver
	l.deliver = nil
	l.mu.Unlock()

	for _, s := range samples {
		deliver(s)
	}
	return nil
}
