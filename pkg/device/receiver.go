// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/overwave/pkg/frame"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/modem"
	"github.com/Thermoquad/overwave/pkg/wave"
)

// ErrNothingReceived is reported when a capture holds no decodable frame.
var ErrNothingReceived = errors.New("no message received")

// ReceiverOptions configures a Receiver.
type ReceiverOptions struct {
	Clock Clock
	// OnCapture receives every finished capture, e.g. to record it.
	OnCapture func(*modem.Capture)
	Logger    logrus.FieldLogger
}

// Receiver arms the sensor of the announced wave and decodes what it saw.
type Receiver struct {
	sensors Sensors
	opts    ReceiverOptions
	log     logrus.FieldLogger

	mu     sync.Mutex // arming state
	active Sensor
	cancel context.CancelFunc
	cfg    handshake.Config

	bufMu sync.Mutex
	buf   []modem.Sample

	// demodulation is not reentrant
	decodeMu sync.Mutex
}

// NewReceiver creates a Receiver.
func NewReceiver(sensors Sensors, opts ReceiverOptions) *Receiver {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Receiver{sensors: sensors, opts: opts, log: log}
}

func (r *Receiver) deliver(s modem.Sample) {
	r.bufMu.Lock()
	r.buf = append(r.buf, s)
	r.bufMu.Unlock()
}

func (r *Receiver) take() []modem.Sample {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	buf := r.buf
	r.buf = nil
	return buf
}

// Arm implements handshake.Armer.
func (r *Receiver) Arm(cfg handshake.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrArmed
	}
	sensor, ok := r.sensors[cfg.Wave]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSensor, cfg.Wave)
	}

	r.take()
	ctx, cancel := context.WithCancel(context.Background())
	period := wave.ProfileFor(cfg.Wave).SamplingPeriod
	if err := sensor.Start(ctx, period, r.deliver); err != nil {
		cancel()
		return err
	}
	r.active, r.cancel, r.cfg = sensor, cancel, cfg
	r.log.WithFields(logrus.Fields{"wave": cfg.Wave, "period": period}).Debug("sensor started")
	return nil
}

func (r *Receiver) stop() (Sensor, handshake.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sensor, cfg := r.active, r.cfg
	if sensor != nil {
		if err := sensor.Stop(); err != nil {
			r.log.WithError(err).Warn("failed to stop sensor")
		}
		r.cancel()
	}
	r.active, r.cancel = nil, nil
	return sensor, cfg
}

// Disarm implements handshake.Armer.
func (r *Receiver) Disarm() {
	r.stop()
	r.take()
}

// Finish implements handshake.Armer.
func (r *Receiver) Finish(ctx context.Context) (handshake.Result, error) {
	sensor, cfg := r.stop()
	if sensor == nil {
		return handshake.Result{}, handshake.ErrNotArmed
	}
	samples := r.take()

	capture := &modem.Capture{
		Wave:        cfg.Wave.String(),
		BitDuration: cfg.BitDuration,
		Text:        cfg.Text,
		Recorded:    r.opts.Clock.Now(),
		Samples:     samples,
	}
	if r.opts.OnCapture != nil {
		r.opts.OnCapture(capture)
	}
	if err := ctx.Err(); err != nil {
		return handshake.Result{}, err
	}

	return r.Decode(cfg, samples), nil
}

// Decode demodulates samples under cfg.
func (r *Receiver) Decode(cfg handshake.Config, samples []modem.Sample) handshake.Result {
	r.decodeMu.Lock()
	defer r.decodeMu.Unlock()

	start := time.Now()
	profile := wave.ProfileFor(cfg.Wave)
	bits := modem.DemodulatorFor(profile).Demodulate(samples, cfg.BitDuration)
	data, corrected, err := profile.Codec.DecodeReport(bits)

	res := handshake.Result{Config: cfg, Samples: len(samples)}
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrNothingReceived, err)
	} else {
		res.Text = string(data)
	}

	r.log.WithFields(logrus.Fields{
		"wave":      cfg.Wave,
		"samples":   len(samples),
		"bits":      len(bits),
		"corrected": corrected,
		"took":      time.Since(start),
	}).Debug("demodulated")

	if errors.Is(err, frame.ErrNoData) {
		r.log.Debug("capture held only silence")
	}
	return res
}
