// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package suballoc

import "github.com/cockroachdb/errors"

// Sub-allocator errors. All of them are delivered by panic: they describe
// sizing defects or broken caller contracts, not conditions a caller can
// recover from.
var (
	// ErrInvalidConfig is raised by New for an unusable configuration.
	ErrInvalidConfig = errors.New("suballoc: invalid configuration")

	// ErrCapacityExceeded is raised when a single request exceeds the arena.
	ErrCapacityExceeded = errors.New("suballoc: request exceeds arena capacity")

	// ErrStalled is raised when nothing fits and the pump reports that it
	// has no outstanding work that could free a sub-buffer.
	ErrStalled = errors.New("suballoc: allocation stalled, pump made no progress")

	// ErrReentrantAlloc is raised when the pump calls Alloc on the allocator
	// that is currently waiting on it.
	ErrReentrantAlloc = errors.New("suballoc: alloc re-entered from pump")

	// ErrInvariantViolation is raised on double free or corrupted bookkeeping.
	ErrInvariantViolation = errors.New("suballoc: invariant violation")
)

// assertionf builds an assertion-failure error wrapping sentinel.
func assertionf(sentinel error, format string, args ...any) error {
	return errors.WithAssertionFailure(errors.Wrapf(sentinel, format, args...))
}
