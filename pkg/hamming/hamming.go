// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hamming implements a single-error-correcting Hamming code over
// bit strings. Parity bits live at the 1-based power-of-two positions of the
// codeword; data bits fill the remaining positions in order.
//
// Two or more flipped bits in one codeword are not detected: Decode will
// "correct" the wrong position or none at all and return garbage data.
package hamming

import (
	"strings"

	"github.com/Thermoquad/overwave/pkg/bitstring"
)

// ParityBits returns the smallest r >= 2 with k + r + 1 <= 2^r.
func ParityBits(k int) int {
	r := 2
	for k+r+1 > 1<<uint(r) {
		r++
	}
	return r
}

// CodewordSize returns the codeword length for k data bits.
func CodewordSize(k int) int {
	if k == 0 {
		return 0
	}
	return k + ParityBits(k)
}

// DataSize returns the number of data bits carried by an n-bit codeword.
func DataSize(n int) int {
	r := 0
	for p := 1; p <= n; p <<= 1 {
		r++
	}
	return n - r
}

func isPowerOfTwo(i int) bool {
	return i > 0 && i&(i-1) == 0
}

// EncodeString validates s with bitstring.Parse and encodes it.
func EncodeString(s string) (bitstring.Bits, error) {
	data, err := bitstring.Parse(s)
	if err != nil {
		return "", err
	}
	return Encode(data), nil
}

// Encode returns the codeword for data, which must hold only '0' and '1'.
// Unchecked input goes through EncodeString.
func Encode(data bitstring.Bits) bitstring.Bits {
	n := CodewordSize(len(data))
	if n == 0 {
		return ""
	}

	// 1-based scratch space
	code := make([]byte, n+1)
	j := 0
	for i := 1; i <= n; i++ {
		if isPowerOfTwo(i) {
			continue
		}
		code[i] = data[j] - '0'
		j++
	}

	for p := 1; p <= n; p <<= 1 {
		var parity byte
		for i := p + 1; i <= n; i++ {
			if i&p != 0 {
				parity ^= code[i]
			}
		}
		code[p] = parity
	}

	var sb strings.Builder
	sb.Grow(n)
	for i := 1; i <= n; i++ {
		sb.WriteByte('0' + code[i])
	}
	return bitstring.Bits(sb.String())
}

// Syndrome sums the positions of the failing parity checks. Zero means the
// codeword is consistent; otherwise it is the 1-based position of a single
// flipped bit.
func Syndrome(code bitstring.Bits) int {
	n := len(code)
	syndrome := 0
	for p := 1; p <= n; p <<= 1 {
		var parity byte
		for i := p; i <= n; i++ {
			if i&p != 0 {
				parity ^= code[i-1] - '0'
			}
		}
		if parity != 0 {
			syndrome += p
		}
	}
	return syndrome
}

// Result describes what Decode did to a codeword.
type Result struct {
	Syndrome  int
	Corrected bool // a bit was flipped back before stripping parity
}

// DecodeString validates s with bitstring.Parse and decodes it.
func DecodeString(s string) (bitstring.Bits, Result, error) {
	code, err := bitstring.Parse(s)
	if err != nil {
		return "", Result{}, err
	}
	data, res := Decode(code)
	return data, res, nil
}

// Decode corrects at most one flipped bit and strips the parity bits. Like
// Encode it expects valid Bits.
func Decode(code bitstring.Bits) (bitstring.Bits, Result) {
	n := len(code)
	res := Result{Syndrome: Syndrome(code)}
	if res.Syndrome != 0 && res.Syndrome <= n {
		code = code.Flip(res.Syndrome - 1)
		res.Corrected = true
	}

	var sb strings.Builder
	sb.Grow(DataSize(n))
	for i := 1; i <= n; i++ {
		if !isPowerOfTwo(i) {
			sb.WriteByte(code[i-1])
		}
	}
	return bitstring.Bits(sb.String()), res
}
