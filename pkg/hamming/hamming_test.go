// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hamming

import (
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/overwave/pkg/bitstring"
)

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomBits(rng *rand.Rand, n int) bitstring.Bits {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(byte('0' + rng.Intn(2)))
	}
	return bitstring.Bits(sb.String())
}

func TestCodewordSize(t *testing.T) {
	tests := []struct{ k, n int }{
		{0, 0},
		{1, 3},
		{4, 7},
		{8, 12},
		{11, 15},
		{12, 17},
		{26, 31},
	}
	for _, tt := range tests {
		if got := CodewordSize(tt.k); got != tt.n {
			t.Errorf("CodewordSize(%d) = %d, want %d", tt.k, got, tt.n)
		}
		if tt.n > 0 {
			if got := DataSize(tt.n); got != tt.k {
				t.Errorf("DataSize(%d) = %d, want %d", tt.n, got, tt.k)
			}
		}
	}
}

func TestEncodeKnownVector(t *testing.T) {
	// Classic Hamming(7,4): data 1011 -> p1 p2 d1 p4 d2 d3 d4 = 0110011
	got := Encode("1011")
	if got != "0110011" {
		t.Errorf("Encode(1011) = %s, want 0110011", got)
	}
	if Syndrome(got) != 0 {
		t.Errorf("Syndrome of a fresh codeword = %d", Syndrome(got))
	}
}

func TestEncodeEmpty(t *testing.T) {
	if got := Encode(""); got != "" {
		t.Errorf("Encode(\"\") = %q", got)
	}
}

func TestStringInputValidated(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1011", "0110011", false},
		{"", "", false},
		{"2", "", true},
		{"10a1", "", true},
	}
	for _, tt := range tests {
		got, err := EncodeString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("EncodeString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("EncodeString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	data, res, err := DecodeString("0110111")
	if err != nil || data != "1011" || !res.Corrected {
		t.Errorf("DecodeString = %s, %+v, %v", data, res, err)
	}
	if _, _, err := DecodeString("01 0011"); err == nil {
		t.Error("DecodeString should reject a space")
	}
}

func TestSingleBitCorrection(t *testing.T) {
	rng := newFuzzRng(t)
	for k := 1; k <= 40; k++ {
		data := randomBits(rng, k)
		code := Encode(data)
		for i := 0; i < len(code); i++ {
			decoded, res := Decode(code.Flip(i))
			if decoded != data {
				t.Fatalf("k=%d flip %d: decoded %s, want %s", k, i, decoded, data)
			}
			if !res.Corrected || res.Syndrome != i+1 {
				t.Fatalf("k=%d flip %d: result %+v", k, i, res)
			}
		}
	}
}

func TestRoundTripClean(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < 200; round++ {
		data := randomBits(rng, 1+rng.Intn(64))
		decoded, res := Decode(Encode(data))
		if decoded != data || res.Corrected {
			t.Fatalf("round %d: %s -> %s (%+v)", round, data, decoded, res)
		}
	}
}

func TestDoubleErrorIsBestEffort(t *testing.T) {
	code := Encode("10110011")
	broken := code.Flip(0).Flip(1)
	decoded, res := Decode(broken)
	if len(decoded) != 8 {
		t.Errorf("decoded length = %d, want 8", len(decoded))
	}
	if res.Syndrome == 0 {
		t.Error("two flipped bits should leave a non-zero syndrome")
	}
}
