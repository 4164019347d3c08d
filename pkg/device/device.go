// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device drives the physical side of a transmission: actuators that
// replay a timing pattern and sensors that record the channel while armed.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/Thermoquad/overwave/pkg/modem"
	"github.com/Thermoquad/overwave/pkg/wave"
)

var (
	ErrNoActuator = errors.New("no actuator for wave")
	ErrNoSensor   = errors.New("no sensor for wave")
	ErrArmed      = errors.New("sensor already armed")
)

// Actuator emits a level on a physical channel.
type Actuator interface {
	// Activate acquires the hardware.
	Activate(ctx context.Context) error
	// Apply sets the output; 0 is off and modem.MaxAmplitude fully on.
	Apply(amplitude uint8) error
	// Deactivate turns the output off and releases the hardware.
	Deactivate() error
}

// Sensor reports channel readings at a requested period while started.
// deliver may be called from any goroutine but never after Stop returns.
type Sensor interface {
	Start(ctx context.Context, period time.Duration, deliver func(modem.Sample)) error
	Stop() error
}

// Actuators maps each wave to its driver.
type Actuators map[wave.Wave]Actuator

// Sensors maps each wave to its driver.
type Sensors map[wave.Wave]Sensor

// Clock abstracts time so transmissions can run against simulated hardware.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var epoch = time.Now()

// Timestamp converts t to the monotonic nanosecond scale used by samples.
func Timestamp(t time.Time) int64 {
	return int64(t.Sub(epoch))
}
