// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bitstring holds the textual bit representation shared by the
// codecs and the modem: a string made only of the characters '0' and '1'.
package bitstring

import (
	"fmt"
	"strings"
)

// Bits is a sequence of '0' and '1' characters, most significant bit first.
type Bits string

// Parse validates s and returns it as Bits.
func Parse(s string) (Bits, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return "", fmt.Errorf("invalid bit %q at offset %d", s[i], i)
		}
	}
	return Bits(s), nil
}

// MustParse is like Parse but panics on invalid input. Intended for constants and tests.
func MustParse(s string) Bits {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// FromBytes renders each byte as 8 bits, MSB first.
func FromBytes(data []byte) Bits {
	var sb strings.Builder
	sb.Grow(len(data) * 8)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			if b&(1<<uint(i)) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return Bits(sb.String())
}

// Bytes groups the bits into bytes. The length must be a multiple of 8.
func (b Bits) Bytes() ([]byte, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%d bits is not a whole number of bytes", len(b))
	}
	out := make([]byte, len(b)/8)
	for i := 0; i < len(b); i++ {
		if b[i] == '1' {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out, nil
}

// Len returns the number of bits.
func (b Bits) Len() int { return len(b) }

// At returns bit i as 0 or 1.
func (b Bits) At(i int) int {
	if b[i] == '1' {
		return 1
	}
	return 0
}

// Ones counts the set bits.
func (b Bits) Ones() int {
	return strings.Count(string(b), "1")
}

// Flip returns a copy of b with bit i inverted.
func (b Bits) Flip(i int) Bits {
	buf := []byte(b)
	if buf[i] == '1' {
		buf[i] = '0'
	} else {
		buf[i] = '1'
	}
	return Bits(buf)
}

// Repeat emits every bit n times ("10" with n=2 becomes "1100").
func (b Bits) Repeat(n int) Bits {
	if n <= 1 {
		return b
	}
	var sb strings.Builder
	sb.Grow(len(b) * n)
	for i := 0; i < len(b); i++ {
		for j := 0; j < n; j++ {
			sb.WriteByte(b[i])
		}
	}
	return Bits(sb.String())
}

// Collapse reverses Repeat by majority vote over each group of n bits.
// A tied group resolves to its first bit. The length must be a multiple of n.
func (b Bits) Collapse(n int) (Bits, error) {
	if n <= 1 {
		return b, nil
	}
	if len(b)%n != 0 {
		return "", fmt.Errorf("%d bits cannot be split into groups of %d", len(b), n)
	}
	var sb strings.Builder
	sb.Grow(len(b) / n)
	for i := 0; i < len(b); i += n {
		ones := strings.Count(string(b[i:i+n]), "1")
		switch {
		case ones*2 > n:
			sb.WriteByte('1')
		case ones*2 < n:
			sb.WriteByte('0')
		default:
			sb.WriteByte(b[i])
		}
	}
	return Bits(sb.String()), nil
}

// Run is a maximal stretch of identical bits.
type Run struct {
	Bit   byte
	Count int
}

// Runs returns the run-length encoding of b.
func (b Bits) Runs() []Run {
	var runs []Run
	for i := 0; i < len(b); i++ {
		if n := len(runs); n > 0 && runs[n-1].Bit == b[i] {
			runs[n-1].Count++
			continue
		}
		runs = append(runs, Run{Bit: b[i], Count: 1})
	}
	return runs
}

// Chunk splits b into pieces of size n; the last piece may be shorter.
func (b Bits) Chunk(n int) []Bits {
	var out []Bits
	for i := 0; i < len(b); i += n {
		end := i + n
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[i:end])
	}
	return out
}
