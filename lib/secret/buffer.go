// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for private keys and
// unsealed credential material.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS)
// and locks it into physical RAM via mlock, so the secret cannot be
// written to swap. Exclusion from core dumps (MADV_DONTDUMP) is applied
// best-effort. On Close the memory is zeroed, unlocked, and unmapped.
// The garbage collector never sees the region and cannot copy or
// relocate it, so no stale copies of the secret survive on the heap.
package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds sensitive bytes in mmap-backed, swap-locked memory.
// Must not be copied. Access after Close panics.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	closed bool
}

// New allocates a zeroed secret buffer of the given size.
// The caller must Close the buffer when the secret is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}

	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}

	// Best-effort: not all kernels support MADV_DONTDUMP, and the
	// buffer is still swap-locked without it.
	unix.Madvise(region, unix.MADV_DONTDUMP)

	return &Buffer{region: region}, nil
}

// NewFromBytes copies source into a new protected buffer and zeroes
// the source in place, so the caller's slice no longer holds the
// secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)

	for index := range source {
		source[index] = 0
	}
	return buffer, nil
}

// Bytes returns the secret data. The slice points directly into the
// protected region; do not retain it beyond the Buffer's lifetime.
// Panics if the buffer has been closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.region
}

// String returns the secret as a string. The result is a heap copy, so
// use it only at API boundaries that require strings; prefer Bytes.
// Panics if the buffer has been closed.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return string(b.region)
}

// Len returns the buffer size.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.region)
}

// Close zeroes the contents and releases the memory. Idempotent.
// Any subsequent access panics.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for index := range b.region {
		b.region[index] = 0
	}

	var firstError error
	if err := unix.Munlock(b.region); err != nil {
		firstError = fmt.Errorf("secret: munlock: %w", err)
	}
	if err := unix.Munmap(b.region); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap: %w", err)
	}
	b.region = nil
	return firstError
}
