// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/overwave/pkg/modem"
)

// SysfsActuator drives a Linux LED or backlight class device through its
// brightness attribute (e.g. /sys/class/leds/white:flash or
// /sys/class/backlight/intel_backlight).
type SysfsActuator struct {
	Dir string

	mu            sync.Mutex
	maxBrightness int
}

// NewLED returns the actuator for /sys/class/leds/<name>.
func NewLED(name string) *SysfsActuator {
	return &SysfsActuator{Dir: filepath.Join("/sys/class/leds", name)}
}

// NewBacklight returns the actuator for /sys/class/backlight/<name>.
func NewBacklight(name string) *SysfsActuator {
	return &SysfsActuator{Dir: filepath.Join("/sys/class/backlight", name)}
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// Activate implements Actuator.
func (a *SysfsActuator) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	maxBrightness, err := readInt(filepath.Join(a.Dir, "max_brightness"))
	if err != nil {
		return fmt.Errorf("failed to read max brightness of %s: %w", a.Dir, err)
	}
	a.mu.Lock()
	a.maxBrightness = maxBrightness
	a.mu.Unlock()
	return nil
}

// Apply implements Actuator.
func (a *SysfsActuator) Apply(amplitude uint8) error {
	a.mu.Lock()
	maxBrightness := a.maxBrightness
	a.mu.Unlock()
	if maxBrightness <= 0 {
		return fmt.Errorf("%s: not activated", a.Dir)
	}
	value := int(amplitude) * maxBrightness / int(modem.MaxAmplitude)
	return os.WriteFile(filepath.Join(a.Dir, "brightness"), []byte(strconv.Itoa(value)), 0o644)
}

// Deactivate implements Actuator.
func (a *SysfsActuator) Deactivate() error {
	err := os.WriteFile(filepath.Join(a.Dir, "brightness"), []byte("0"), 0o644)
	a.mu.Lock()
	a.maxBrightness = 0
	a.mu.Unlock()
	return err
}

// SysfsSensor polls a numeric sysfs attribute, such as an IIO channel
// (/sys/bus/iio/devices/iio:device0/in_illuminance_raw).
type SysfsSensor struct {
	Path  string
	Scale float64 // multiplier applied to the raw reading; 0 means 1
	Clock Clock

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func (s *SysfsSensor) read() (float64, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, err
	}
	if s.Scale != 0 {
		v *= s.Scale
	}
	return v, nil
}

// Start implements Sensor.
func (s *SysfsSensor) Start(ctx context.Context, period time.Duration, deliver func(modem.Sample)) error {
	if _, err := s.read(); err != nil {
		return fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	clock := s.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return ErrArmed
	}
	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			if v, err := s.read(); err == nil {
				deliver(modem.Sample{Timestamp: Timestamp(clock.Now()), Value: v})
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(s.done)
	return nil
}

// Stop implements Sensor.
func (s *SysfsSensor) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	<-done
	return nil
}
