// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the overwave YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/overwave/pkg/wave"
)

type Config struct {
	Link         LinkConfig         `yaml:"link"`
	Transmission TransmissionConfig `yaml:"transmission"`
	Devices      DevicesConfig      `yaml:"devices"`
	Log          LogConfig          `yaml:"log"`
	Monitor      MonitorConfig      `yaml:"monitor"`
}

type LinkConfig struct {
	// Transport is one of rfcomm, tcp, websocket, serial.
	Transport string `yaml:"transport"`
	Remote    string `yaml:"remote"`

	Channel uint8  `yaml:"channel"`
	Listen  string `yaml:"listen"`
	// Adapter is the local Bluetooth adapter used for device names and,
	// with BluezProfile, for the SDP record.
	Adapter      string `yaml:"adapter"`
	BluezProfile bool   `yaml:"bluez_profile"`

	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`

	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SkipSSLVerify bool   `yaml:"skip_ssl_verify"`

	RestartDelay    time.Duration `yaml:"restart_delay"`
	MaxRestartDelay time.Duration `yaml:"max_restart_delay"`
}

type TransmissionConfig struct {
	Wave string `yaml:"wave"`
	// BitDuration of zero uses the wave's default.
	BitDuration time.Duration `yaml:"bit_duration"`
	Trials      int           `yaml:"trials"`
	EndDelay    time.Duration `yaml:"end_delay"`
}

// DevicesConfig binds waves to hardware. Actuators are "led:<name>",
// "backlight:<name>" or "loopback"; sensors read a numeric sysfs or iio file.
type DevicesConfig struct {
	Actuators  map[string]string       `yaml:"actuators"`
	Sensors    map[string]SensorConfig `yaml:"sensors"`
	CaptureDir string                  `yaml:"capture_dir"`
}

type SensorConfig struct {
	Path  string  `yaml:"path"`
	Scale float64 `yaml:"scale"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoadConfig reads path over the defaults, so a file only needs the keys it
// changes.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Transport:       "rfcomm",
			Listen:          ":7628",
			Adapter:         "hci0",
			BaudRate:        115200,
			RestartDelay:    500 * time.Millisecond,
			MaxRestartDelay: 30 * time.Second,
		},
		Transmission: TransmissionConfig{
			Wave:     wave.Light.String(),
			Trials:   1,
			EndDelay: 500 * time.Millisecond,
		},
		Devices: DevicesConfig{
			Actuators: map[string]string{},
			Sensors:   map[string]SensorConfig{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

var transports = []string{"rfcomm", "tcp", "websocket", "serial"}

// Validate checks values that the YAML types cannot.
func (c *Config) Validate() error {
	var errs []error

	found := false
	for _, t := range transports {
		if c.Link.Transport == t {
			found = true
		}
	}
	if !found {
		errs = append(errs, fmt.Errorf("link.transport %q: want one of %s", c.Link.Transport, strings.Join(transports, ", ")))
	}
	if c.Link.Channel > 30 {
		errs = append(errs, fmt.Errorf("link.channel %d: rfcomm channels are 1-30", c.Link.Channel))
	}
	if c.Link.RestartDelay <= 0 {
		errs = append(errs, errors.New("link.restart_delay must be positive"))
	}
	if c.Link.MaxRestartDelay < c.Link.RestartDelay {
		errs = append(errs, errors.New("link.max_restart_delay must not be below link.restart_delay"))
	}

	if _, err := wave.Parse(c.Transmission.Wave); err != nil {
		errs = append(errs, fmt.Errorf("transmission.wave: %w", err))
	}
	if c.Transmission.BitDuration < 0 || (c.Transmission.BitDuration > 0 && c.Transmission.BitDuration < time.Millisecond) {
		errs = append(errs, fmt.Errorf("transmission.bit_duration %v: must be at least 1ms", c.Transmission.BitDuration))
	}
	if c.Transmission.Trials < 1 {
		errs = append(errs, fmt.Errorf("transmission.trials %d: must be at least 1", c.Transmission.Trials))
	}
	if c.Transmission.EndDelay < 0 {
		errs = append(errs, errors.New("transmission.end_delay must not be negative"))
	}

	for name := range c.Devices.Actuators {
		if _, err := wave.Parse(name); err != nil {
			errs = append(errs, fmt.Errorf("devices.actuators: %w", err))
		}
	}
	for name, s := range c.Devices.Sensors {
		if _, err := wave.Parse(name); err != nil {
			errs = append(errs, fmt.Errorf("devices.sensors: %w", err))
		}
		if s.Path == "" {
			errs = append(errs, fmt.Errorf("devices.sensors.%s: path is required", name))
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	if c.Log.Output == "file" && c.Log.FilePath == "" {
		errs = append(errs, errors.New("log.file_path is required when log.output is file"))
	}

	return errors.Join(errs...)
}

// WaveKind returns the configured wave. Call Validate first.
func (t TransmissionConfig) WaveKind() wave.Wave {
	w, _ := wave.Parse(t.Wave)
	return w
}
