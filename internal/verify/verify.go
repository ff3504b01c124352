// Package verify implements the write-path checksum-verify gate (§4.D):
// a pre-write content hash captured at issue time, sampled re-hashing
// immediately before submission, and mismatch detection.
package verify

import (
	"sync/atomic"

	"golang.org/x/crypto/sha3"
)

// Hash computes the 256-bit content hash of buf.
func Hash(buf []byte) [32]byte {
	return sha3.Sum256(buf)
}

// Gate tracks the per-device write counter that decides which writes get
// sampled for re-verification.
type Gate struct {
	writeCount atomic.Uint64
}

// NewGate returns a fresh per-device verify gate.
func NewGate() *Gate {
	return &Gate{}
}

// ShouldVerify increments the device's write counter and reports whether
// this write lands on the N-th write boundary, where N is the caller's
// current VDEV_DIRECT_WR_VERIFY_CNT value. N < 1 is treated as 1.
func (g *Gate) ShouldVerify(n uint64) bool {
	if n < 1 {
		n = 1
	}
	c := g.writeCount.Add(1)
	return c%n == 0
}

// Outcome is the result of a sampled re-verify.
type Outcome struct {
	Match    bool
	Expected [32]byte
	Computed [32]byte
}

// Verify recomputes the hash of buf and compares it against the
// issue-time hash captured in expected. Callers must pass the exact same
// buffer the write was issued against.
func Verify(expected [32]byte, buf []byte) Outcome {
	computed := Hash(buf)
	return Outcome{Match: expected == computed, Expected: expected, Computed: computed}
}
