// Package compute provides the CPU-bound transform applied to every task
// payload. The function is pure: the same payload and round count always
// produce the same value, and no state is shared between calls, so any
// number of workers may call it concurrently.
package compute

import (
	"crypto/sha256"
	"fmt"
)

// Func is the signature the worker pool consumes. An error terminates the
// worker that observed it.
type Func func(payload string, rounds int) (uint32, error)

// Hash applies SHA-256 to the payload bytes rounds times and folds the first
// four bytes of the final digest into a little-endian uint32.
//
// With rounds == 0 the payload bytes themselves are folded; payloads shorter
// than four bytes contribute only the bytes they have.
//
// Example:
//
//	v := compute.Hash("12,63.5", 60000)
func Hash(payload string, rounds int) uint32 {
	h := []byte(payload)
	for i := 0; i < rounds; i++ {
		sum := sha256.Sum256(h)
		h = sum[:]
	}

	var v uint32
	for i := 0; i < 4 && i < len(h); i++ {
		v |= uint32(h[i]) << (8 * i)
	}
	return v
}

// SHA256 adapts Hash to Func. Negative round counts are rejected.
func SHA256(payload string, rounds int) (uint32, error) {
	if rounds < 0 {
		return 0, fmt.Errorf("compute: negative rounds %d", rounds)
	}
	return Hash(payload, rounds), nil
}
