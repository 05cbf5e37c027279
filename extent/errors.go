// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package extent

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidConfig is raised by NewRing for an unusable geometry.
	ErrInvalidConfig = errors.New("extent: invalid configuration")

	// ErrCapacityExceeded is raised when a slot is reserved on a full ring.
	ErrCapacityExceeded = errors.New("extent: ring is full")

	// ErrInvariantViolation is raised on double free, on freeing a snapshot
	// to the wrong ring, and on corrupted counters.
	ErrInvariantViolation = errors.New("extent: invariant violation")
)
