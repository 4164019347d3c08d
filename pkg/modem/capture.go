// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/overwave/pkg/wave"
)

// Capture is a recorded sample buffer together with the parameters needed
// to demodulate it later.
type Capture struct {
	Wave        string        `cbor:"1,keyasint"`
	BitDuration time.Duration `cbor:"2,keyasint"`
	Text        string        `cbor:"3,keyasint,omitempty"` // what the sender announced, if known
	Recorded    time.Time     `cbor:"4,keyasint"`
	Samples     []Sample      `cbor:"5,keyasint"`
}

// Profile resolves the capture's wave profile.
func (c *Capture) Profile() (wave.Profile, error) {
	w, err := wave.Parse(c.Wave)
	if err != nil {
		return wave.Profile{}, err
	}
	return wave.ProfileFor(w), nil
}

// Demodulate runs the profile's demodulator over the recorded samples.
func (c *Capture) Demodulate() (string, error) {
	p, err := c.Profile()
	if err != nil {
		return "", err
	}
	bits := DemodulatorFor(p).Demodulate(c.Samples, c.BitDuration)
	return p.Codec.DecodeString(bits)
}

// WriteCapture encodes c as CBOR.
func WriteCapture(w io.Writer, c *Capture) error {
	if err := cbor.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode capture: %w", err)
	}
	return nil
}

// ReadCapture decodes a CBOR capture.
func ReadCapture(r io.Reader) (*Capture, error) {
	var c Capture
	if err := cbor.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	return &c, nil
}

// SaveCapture writes c to path.
func SaveCapture(path string, c *Capture) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCapture(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadCapture reads a capture file.
func LoadCapture(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCapture(f)
}
