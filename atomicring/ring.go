// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package atomicring provides a pair of monotonic counters that may be
// advanced concurrently from execution contexts sharing no lock.
//
// A Ring counts two things: how many items have been written (produced) and
// how many have been read (consumed). The difference is the number of items
// outstanding. Both counters wrap modulo 2^32, so Outstanding stays correct
// across wraparound as long as fewer than 2^32 items are ever outstanding.
//
// # Ordering
//
// The counters are individually race-free and monotonic. They do not order
// the payload they describe: a reader that observes Writes() == n is not
// guaranteed to observe the data written for index n-1. Callers that need to
// read that data must establish ordering through another mechanism, such as a
// channel handoff, a mutex, or a device fence.
package atomicring

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Ring is a reads/writes counter pair. The zero value is a ring with both
// counters at zero.
//
// Each counter sits on its own cache line so that a producer advancing writes
// and a consumer advancing reads do not contend.
type Ring struct {
	_      cpu.CacheLinePad
	reads  atomic.Uint32
	_      cpu.CacheLinePad
	writes atomic.Uint32
	_      cpu.CacheLinePad
}

// New returns a ring with reads = 0 and writes = initialWrites.
func New(initialWrites uint32) *Ring {
	r := &Ring{}
	r.Init(initialWrites)
	return r
}

// Init resets the ring: reads = 0, writes = initialWrites.
// Init must not race with Advance calls.
func (r *Ring) Init(initialWrites uint32) {
	r.reads.Store(0)
	r.writes.Store(initialWrites)
}

// AdvanceReads adds n to the reads counter and returns its previous value.
func (r *Ring) AdvanceReads(n uint32) uint32 {
	return r.reads.Add(n) - n
}

// AdvanceWrites adds n to the writes counter and returns its previous value.
func (r *Ring) AdvanceWrites(n uint32) uint32 {
	return r.writes.Add(n) - n
}

// Reads returns the current reads counter.
func (r *Ring) Reads() uint32 { return r.reads.Load() }

// Writes returns the current writes counter.
func (r *Ring) Writes() uint32 { return r.writes.Load() }

// Outstanding returns writes - reads modulo 2^32.
//
// The two counters are loaded independently, so under concurrent advances the
// result is a point-in-time estimate. Reads is loaded first: a concurrent
// consumer can then only make the estimate larger, never underflow it.
func (r *Ring) Outstanding() uint32 {
	reads := r.reads.Load()
	return r.writes.Load() - reads
}
