// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		d := NewDecoder()
		n := rng.Intn(64)
		emitted := 0
		for i := 0; i < n; i++ {
			b := byte(rng.Intn(256))
			frame, err := d.DecodeByte(b)
			if frame != nil {
				emitted++
				if (err == nil) != frame.Valid() {
					t.Fatalf("round %d: error %v disagrees with Valid() for %+v", round, err, frame)
				}
			}
			if err != nil && !IsChecksumMismatch(err) {
				t.Fatalf("round %d: unexpected error type %v", round, err)
			}
		}
		if emitted != n/FrameSize {
			t.Fatalf("round %d: %d bytes produced %d frames, want %d", round, n, emitted, n/FrameSize)
		}
	}
}

func TestFuzzDecoder_EncodedFrames(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	d := NewDecoder()
	for round := 0; round < rounds; round++ {
		address := uint8(rng.Intn(256))
		command := uint8(rng.Intn(256))
		value := uint8(rng.Intn(256))

		var frame *Frame
		var err error
		for _, b := range Encode(address, command, value) {
			frame, err = d.DecodeByte(b)
		}
		if err != nil {
			t.Fatalf("round %d: encoded frame rejected: %v", round, err)
		}
		if frame.Address != address || frame.Command != command || frame.Value != value {
			t.Fatalf("round %d: got %+v, want (%d, %d, %d)", round, frame, address, command, value)
		}
	}
}

func TestFuzzFrame_CorruptedChecksum(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		f := NewFrame(uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)))
		corrupt := f.Checksum
		for corrupt == f.Checksum {
			corrupt = uint8(rng.Intn(256))
		}
		f.Checksum = corrupt
		if f.Valid() {
			t.Fatalf("round %d: corrupted frame %+v passed verification", round, f)
		}
	}
}
