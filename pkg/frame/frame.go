// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame wraps a byte payload into the bit frame that is put on a
// physical channel, and recovers the payload from a demodulated bit stream.
//
// Wire layout:
//
//	[silence 0*] START(11110101) payload STOP(10) [silence 0*]
//
// The payload is the data bytes MSB first, optionally Hamming(12,8) coded per
// byte, with every bit then repeated Repeat times. The markers are never
// repeated nor Hamming coded. Both ends must use the same Codec.
package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/overwave/pkg/bitstring"
	"github.com/Thermoquad/overwave/pkg/hamming"
)

// Frame markers
const (
	StartMarker bitstring.Bits = "11110101"
	StopMarker  bitstring.Bits = "10"
)

const (
	byteBits    = 8
	hammingBits = 12 // hamming.CodewordSize(8)
)

var (
	// ErrNoData means the stream holds nothing but silence.
	ErrNoData = errors.New("no data")
	// ErrMissingMarker means the start or stop marker could not be found.
	ErrMissingMarker = errors.New("missing frame marker")
	// ErrMisaligned means the payload does not split into whole blocks.
	ErrMisaligned = errors.New("payload not aligned")
)

// FrameError carries the stage that failed and the size of the input.
type FrameError struct {
	Stage string
	Bits  int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s: %v (%d bits)", e.Stage, e.Err, e.Bits)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Codec is the set of payload options for one channel.
type Codec struct {
	Repeat  int  // copies of every payload bit; 0 and 1 both mean none
	Hamming bool // Hamming(12,8) per byte
}

// Doubled is the OOK frame used by optical and acoustic channels.
var Doubled = Codec{Repeat: 2}

func (c Codec) repeat() int {
	if c.Repeat < 1 {
		return 1
	}
	return c.Repeat
}

// Encode frames data.
func (c Codec) Encode(data []byte) bitstring.Bits {
	payload := bitstring.FromBytes(data)
	if c.Hamming {
		var sb strings.Builder
		for _, chunk := range payload.Chunk(byteBits) {
			sb.WriteString(string(hamming.Encode(chunk)))
		}
		payload = bitstring.Bits(sb.String())
	}
	payload = payload.Repeat(c.repeat())
	return StartMarker + payload + StopMarker
}

// EncodeString frames a text message.
func (c Codec) EncodeString(text string) bitstring.Bits {
	return c.Encode([]byte(text))
}

// Len returns the frame length in bits for n data bytes.
func (c Codec) Len(n int) int {
	block := byteBits
	if c.Hamming {
		block = hammingBits
	}
	return len(StartMarker) + n*block*c.repeat() + len(StopMarker)
}

// Payload strips silence and markers, returning the raw payload bits.
func Payload(bits bitstring.Bits) (bitstring.Bits, error) {
	s := strings.TrimLeft(string(bits), "0")
	if s == "" {
		return "", &FrameError{Stage: "sync", Bits: len(bits), Err: ErrNoData}
	}

	// The leading run of ones absorbs the first four marker bits plus any
	// ones smeared in front of it by the channel.
	s = strings.TrimLeft(s, "1")
	tail := string(StartMarker[4:])
	if !strings.HasPrefix(s, tail) {
		return "", &FrameError{Stage: "start", Bits: len(bits), Err: ErrMissingMarker}
	}
	s = s[len(tail):]

	s = strings.TrimRight(s, "0")
	if s == "" {
		return "", &FrameError{Stage: "stop", Bits: len(bits), Err: ErrMissingMarker}
	}
	return bitstring.Bits(s[:len(s)-1]), nil
}

// Decode recovers the data bytes from a demodulated stream.
func (c Codec) Decode(bits bitstring.Bits) ([]byte, error) {
	data, _, err := c.DecodeReport(bits)
	return data, err
}

// DecodeReport is Decode that also returns the number of Hamming corrections applied.
func (c Codec) DecodeReport(bits bitstring.Bits) ([]byte, int, error) {
	payload, err := Payload(bits)
	if err != nil {
		return nil, 0, err
	}

	payload, err = payload.Collapse(c.repeat())
	if err != nil {
		return nil, 0, &FrameError{Stage: "repeat", Bits: len(bits), Err: fmt.Errorf("%w: %v", ErrMisaligned, err)}
	}

	corrected := 0
	if c.Hamming {
		if len(payload)%hammingBits != 0 {
			return nil, 0, &FrameError{Stage: "hamming", Bits: len(bits), Err: ErrMisaligned}
		}
		var sb strings.Builder
		for _, block := range payload.Chunk(hammingBits) {
			data, res := hamming.Decode(block)
			if res.Corrected {
				corrected++
			}
			sb.WriteString(string(data))
		}
		payload = bitstring.Bits(sb.String())
	}

	out, err := payload.Bytes()
	if err != nil {
		return nil, corrected, &FrameError{Stage: "bytes", Bits: len(bits), Err: fmt.Errorf("%w: %v", ErrMisaligned, err)}
	}
	return out, corrected, nil
}

// DecodeString is Decode returning text.
func (c Codec) DecodeString(bits bitstring.Bits) (string, error) {
	data, err := c.Decode(bits)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
