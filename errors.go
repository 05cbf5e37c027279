// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpurt

import "github.com/cockroachdb/errors"

var (
	// ErrClosed is returned by operations on a closed Runtime.
	ErrClosed = errors.New("gpurt: runtime closed")

	// ErrForeignSnapshot is returned by Submit when the snapshot was taken
	// from a ring other than the one backing the given slots.
	ErrForeignSnapshot = errors.New("gpurt: snapshot does not belong to slots")
)
