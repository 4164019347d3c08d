// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/modem"
	"github.com/Thermoquad/overwave/pkg/wave"
)

// progressEvery is the step interval between progress reports.
const progressEvery = 3

// Step is one iteration of the replay loop.
type Step struct {
	Amplitude uint8
	Duration  time.Duration
}

// Steps cuts a pattern into steps no longer than one bit duration, so the
// actuator is refreshed once per bit.
func Steps(p modem.Pattern, bitDuration time.Duration) []Step {
	var steps []Step
	for _, seg := range p {
		left := seg.Duration
		for left > 0 {
			d := left
			if bitDuration > 0 && d > bitDuration {
				d = bitDuration
			}
			steps = append(steps, Step{Amplitude: seg.Amplitude, Duration: d})
			left -= d
		}
	}
	return steps
}

// TransmitterOptions configures a Transmitter.
type TransmitterOptions struct {
	Clock Clock
	// Silence is held before and after the pattern so the receiver sees the
	// idle level on both sides of the frame.
	Silence time.Duration
	Logger  logrus.FieldLogger
}

// Transmitter replays framed text on the actuator of the configured wave.
type Transmitter struct {
	actuators Actuators
	clock     Clock
	silence   time.Duration
	log       logrus.FieldLogger
}

// NewTransmitter creates a Transmitter.
func NewTransmitter(actuators Actuators, opts TransmitterOptions) *Transmitter {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Transmitter{actuators: actuators, clock: opts.Clock, silence: opts.Silence, log: log}
}

// Pattern returns the frame bits and timing pattern Transmit would play.
func Pattern(cfg handshake.Config) (modem.Pattern, error) {
	profile := wave.ProfileFor(cfg.Wave)
	bits := profile.Codec.EncodeString(cfg.Text)
	p, err := modem.ForProfile(profile).Modulate(bits, cfg.BitDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to modulate %s frame: %w", cfg.Wave, err)
	}
	return p, nil
}

// Transmit implements handshake.Emitter.
func (t *Transmitter) Transmit(ctx context.Context, cfg handshake.Config, progress func(float64)) error {
	act, ok := t.actuators[cfg.Wave]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActuator, cfg.Wave)
	}
	p, err := Pattern(cfg)
	if err != nil {
		return err
	}

	log := t.log.WithFields(logrus.Fields{
		"wave":     cfg.Wave,
		"segments": len(p),
		"duration": p.Total(),
	})
	log.Info("transmitting")

	if err := t.Play(ctx, act, Steps(p, cfg.BitDuration), progress); err != nil {
		log.WithError(err).Warn("transmission interrupted")
		return err
	}
	log.Info("transmission complete")
	return nil
}

// Play runs the cancellable step loop: apply, report progress every third
// step, sleep. The actuator is always deactivated on return.
func (t *Transmitter) Play(ctx context.Context, act Actuator, steps []Step, progress func(float64)) (err error) {
	if progress == nil {
		progress = func(float64) {}
	}
	if err := act.Activate(ctx); err != nil {
		return fmt.Errorf("failed to activate actuator: %w", err)
	}
	defer func() {
		if derr := act.Deactivate(); derr != nil && err == nil {
			err = fmt.Errorf("failed to deactivate actuator: %w", derr)
		}
	}()

	if err := act.Apply(0); err != nil {
		return err
	}
	if err := t.clock.Sleep(ctx, t.silence); err != nil {
		return err
	}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := act.Apply(s.Amplitude); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if i%progressEvery == 0 {
			progress(100 * float64(i) / float64(len(steps)))
		}
		if err := t.clock.Sleep(ctx, s.Duration); err != nil {
			return err
		}
	}

	if err := act.Apply(0); err != nil {
		return err
	}
	progress(100)
	return t.clock.Sleep(ctx, t.silence)
}
