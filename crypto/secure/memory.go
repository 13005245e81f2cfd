// Package secure provides deterministic handling of secret key material.
// Buffers are zeroed by their owner at scope exit, never by the garbage
// collector: finalizer timing is nondeterministic, and a collected but
// unwiped secret is indistinguishable from one that was never wiped.
package secure

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"

	"lukechampine.com/blake3"
)

// Buffer owns a secret byte slice for the lifetime of one flow. The owner
// calls Destroy (usually via defer) when the flow ends; after that the
// contents are zero and reads return nil.
type Buffer struct {
	data      []byte
	mu        sync.RWMutex
	destroyed bool
}

// NewBuffer allocates a zeroed secret buffer of the given size.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		return &Buffer{data: nil}
	}
	return &Buffer{data: make([]byte, size)}
}

// FromBytes copies data into a new secret buffer. The caller still owns
// (and should wipe) the original slice.
func FromBytes(data []byte) *Buffer {
	if len(data) == 0 {
		return &Buffer{data: nil}
	}
	b := &Buffer{data: make([]byte, len(data))}
	copy(b.data, data)
	return b
}

// Bytes returns a copy of the secret data, or nil after Destroy.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed || b.data == nil {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the size of the secret data, 0 after Destroy.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return 0
	}
	return len(b.data)
}

// IsEmpty reports whether the buffer holds no data.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Destroyed reports whether Destroy has run.
func (b *Buffer) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// CopyFrom replaces the buffer contents, wiping the previous bytes first.
// Fails if the incoming data exceeds the allocated size.
func (b *Buffer) CopyFrom(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return fmt.Errorf("secure buffer already destroyed")
	}
	if b.data == nil {
		return fmt.Errorf("secure buffer is nil")
	}
	if len(data) > len(b.data) {
		return fmt.Errorf("data size %d exceeds secure buffer size %d", len(data), len(b.data))
	}

	Zeroize(b.data)
	copy(b.data, data)
	return nil
}

// Destroy zeroes the contents and marks the buffer unusable. Idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.destroyed && b.data != nil {
		Zeroize(b.data)
		b.data = nil
	}
	b.destroyed = true
}

// Zeroize overwrites sensitive data with zeros.
func Zeroize(data []byte) {
	if len(data) == 0 {
		return
	}

	// Explicitly zero each byte to prevent compiler optimizations
	for i := range data {
		data[i] = 0
	}

	// Force memory barrier to ensure zeroization is not optimized away
	runtime.KeepAlive(data)
}

// ZeroizeMultiple zeros multiple byte slices in a single call.
func ZeroizeMultiple(slices ...[]byte) {
	for _, slice := range slices {
		Zeroize(slice)
	}
}

// SecureCompare performs constant-time comparison of two byte slices.
func SecureCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}

	return result == 0
}

// SecureRandom fills the provided slice with cryptographically secure random bytes.
func SecureRandom(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if _, err := rand.Read(data); err != nil {
		return fmt.Errorf("failed to generate secure random bytes: %w", err)
	}

	return nil
}

// FingerprintSize is the number of digest bytes exposed by Fingerprint.
const FingerprintSize = 8

// Fingerprint returns a short hex digest of key bytes that is safe to log:
// 8 bytes of BLAKE3 identify a key without revealing it.
func Fingerprint(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:FingerprintSize])
}
