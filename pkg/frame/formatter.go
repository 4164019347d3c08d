// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/overwave/pkg/bitstring"
)

// Format renders a frame with its regions split out, one payload block per
// group, for human inspection.
func (c Codec) Format(bits bitstring.Bits) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Frame (%d bits, repeat=%d, hamming=%v)\n", len(bits), c.repeat(), c.Hamming)

	payload, err := Payload(bits)
	if err != nil {
		fmt.Fprintf(&sb, "  raw:     %s\n", bits)
		fmt.Fprintf(&sb, "  error:   %v\n", err)
		return sb.String()
	}

	block := byteBits
	if c.Hamming {
		block = hammingBits
	}
	block *= c.repeat()

	fmt.Fprintf(&sb, "  start:   %s\n", StartMarker)
	groups := payload.Chunk(block)
	for i, g := range groups {
		fmt.Fprintf(&sb, "  [%3d]    %s\n", i, g)
	}
	fmt.Fprintf(&sb, "  stop:    %s\n", StopMarker)

	if data, err := c.Decode(bits); err == nil {
		fmt.Fprintf(&sb, "  decoded: %q\n", data)
	}
	return sb.String()
}
