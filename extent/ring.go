// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package extent implements the checkpointed ring that batches
// host-produced elements into snapshots for asynchronous consumption.
//
// A Ring has two cursor pairs over one power-of-two index space:
//
//	outer.reads <= inner.reads <= inner.writes <= outer.writes
//	|-- owned by snapshots --|-- checkpointed --|-- in progress --|
//
// ReserveSlot advances outer.writes. Checkpoint seals everything reserved so
// far by moving inner.writes up to it. SnapshotAlloc captures the sealed,
// not yet captured range [inner.reads, inner.writes) as an immutable
// Snapshot. Snapshots may be freed in any order, but space returns to the
// ring only from the oldest one forward, so a slot is never reused while an
// older snapshot that could cover it is still outstanding.
//
// Counters are uint32 and compared modulo 2^32.
//
// A Ring is not safe for concurrent use.
package extent

import (
	"fmt"

	"github.com/eapache/queue"

	"github.com/gogpu/gpurt/alloc"
	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
)

// TempAllocator supplies host memory for snapshot metadata.
// *alloc.HostAllocator implements it.
type TempAllocator interface {
	TempAlloc(flags device.MemFlags, size uint64) alloc.Temp
	TempFree(t alloc.Temp)
}

type cursor struct {
	reads  uint32
	writes uint32
}

// Ring is a checkpointed ring of element indices.
type Ring struct {
	outer cursor
	inner cursor

	capacity uint32
	mask     uint32
	maxPer   uint32
	elemSize uint32

	// outstanding holds *Snapshot, oldest at the head.
	outstanding *queue.Queue
}

// NewRing creates a ring of capacity elements, each elemSize bytes, whose
// snapshots are expected to hold at most maxPerSnapshot elements.
//
// NewRing panics with ErrInvalidConfig unless capacity is a power of two,
// 0 < maxPerSnapshot <= capacity and elemSize > 0.
func NewRing(capacity, maxPerSnapshot, elemSize uint32) *Ring {
	switch {
	case capacity == 0 || capacity&(capacity-1) != 0 || capacity > 1<<31:
		panic(fmt.Errorf("%w: capacity %d is not a power of two", ErrInvalidConfig, capacity))
	case maxPerSnapshot == 0 || maxPerSnapshot > capacity:
		panic(fmt.Errorf("%w: max per snapshot %d with capacity %d", ErrInvalidConfig, maxPerSnapshot, capacity))
	case elemSize == 0:
		panic(fmt.Errorf("%w: zero element size", ErrInvalidConfig))
	}
	return &Ring{
		capacity:    capacity,
		mask:        capacity - 1,
		maxPer:      maxPerSnapshot,
		elemSize:    elemSize,
		outstanding: queue.New(),
	}
}

// Capacity returns the number of elements the ring holds.
func (r *Ring) Capacity() uint32 { return r.capacity }

// MaxPerSnapshot returns the snapshot size the ring was configured for.
func (r *Ring) MaxPerSnapshot() uint32 { return r.maxPer }

// ElemSize returns the size of one element in bytes.
func (r *Ring) ElemSize() uint32 { return r.elemSize }

// Remaining returns the number of elements that can still be reserved.
func (r *Ring) Remaining() uint32 {
	return r.capacity - (r.outer.writes - r.outer.reads)
}

// IsFull reports whether no element can be reserved.
func (r *Ring) IsFull() bool { return r.Remaining() == 0 }

// WIPCount returns the number of elements reserved since the last snapshot,
// checkpointed or not.
func (r *Ring) WIPCount() uint32 { return r.outer.writes - r.inner.reads }

// WIPRemaining returns how many more elements fit into the snapshot in
// progress: the snapshot limit less the elements already in progress,
// bounded by the ring's free space. Remaining already excludes the
// in-progress elements, so they are subtracted from the limit only.
func (r *Ring) WIPRemaining() uint32 {
	limit := r.maxPer - min(r.WIPCount(), r.maxPer)
	return min(r.Remaining(), limit)
}

// WIPIsFull reports whether the snapshot in progress can take no more
// elements.
func (r *Ring) WIPIsFull() bool { return r.WIPRemaining() == 0 }

// ReserveSlot reserves the next element and returns its index in
// [0, Capacity). It panics with ErrCapacityExceeded if the ring is full.
func (r *Ring) ReserveSlot() uint32 {
	idx, ok := r.TryReserveSlot()
	if !ok {
		panic(fmt.Errorf("%w: %d elements outstanding", ErrCapacityExceeded, r.capacity))
	}
	return idx
}

// TryReserveSlot is like ReserveSlot but reports a full ring with ok=false.
func (r *Ring) TryReserveSlot() (idx uint32, ok bool) {
	if r.IsFull() {
		return 0, false
	}
	idx = r.outer.writes & r.mask
	r.outer.writes++
	return idx, true
}

// Checkpoint seals every element reserved so far. Sealed elements go into
// the next snapshot; elements reserved after the checkpoint do not.
func (r *Ring) Checkpoint() {
	r.inner.writes = r.outer.writes
}

// SnapshotAlloc captures the sealed elements not yet in any snapshot.
// Its metadata record is allocated from host, which may block on the host
// allocator's pump.
//
// The snapshot may be empty. It must eventually be passed to SnapshotFree.
func (r *Ring) SnapshotAlloc(host TempAllocator) *Snapshot {
	s := &Snapshot{
		ring:   r,
		reads:  r.inner.reads,
		writes: r.inner.writes,
	}
	s.meta = host.TempAlloc(device.ReadWrite, metaSize)
	s.encodeMeta()
	r.inner.reads = r.inner.writes
	r.outstanding.Add(s)
	return s
}

// SnapshotFree marks s free. If s is the oldest outstanding snapshot, it and
// every contiguous free snapshot after it are reclaimed: their elements
// return to the ring and their metadata to host.
//
// Freeing a snapshot twice, or to another ring, panics with
// ErrInvariantViolation.
func (r *Ring) SnapshotFree(host TempAllocator, s *Snapshot) {
	switch {
	case s.ring != r:
		panic(assertionf("snapshot [%d,%d) freed to a foreign ring", s.reads, s.writes))
	case s.free:
		panic(assertionf("snapshot [%d,%d) freed twice", s.reads, s.writes))
	}
	s.free = true

	reclaimed := 0
	for r.outstanding.Length() > 0 {
		head := r.outstanding.Peek().(*Snapshot)
		if !head.free {
			break
		}
		r.outstanding.Remove()
		r.outer.reads = head.writes
		host.TempFree(head.meta)
		head.meta = alloc.Temp{}
		reclaimed++
	}
	if reclaimed > 0 {
		rtlog.Logger().Debug("extent: reclaimed snapshots",
			"count", reclaimed, "outer_reads", r.outer.reads, "outstanding", r.outstanding.Length())
	}
}

// Outstanding returns the number of snapshots not yet reclaimed.
func (r *Ring) Outstanding() int { return r.outstanding.Length() }

// Counters is a copy of a ring's cursors.
type Counters struct {
	OuterReads  uint32
	InnerReads  uint32
	InnerWrites uint32
	OuterWrites uint32
}

// Counters returns the current cursors.
func (r *Ring) Counters() Counters {
	return Counters{
		OuterReads:  r.outer.reads,
		InnerReads:  r.inner.reads,
		InnerWrites: r.inner.writes,
		OuterWrites: r.outer.writes,
	}
}

// Validate checks cursor ordering modulo 2^32 against capacity.
func (c Counters) Validate(capacity uint32) error {
	used := c.OuterWrites - c.OuterReads
	switch {
	case used > capacity:
		return fmt.Errorf("%w: %d elements in use, capacity %d", ErrInvariantViolation, used, capacity)
	case c.InnerReads-c.OuterReads > used,
		c.InnerWrites-c.OuterReads > used,
		c.InnerReads-c.OuterReads > c.InnerWrites-c.OuterReads:
		return fmt.Errorf("%w: cursors out of order: %+v", ErrInvariantViolation, c)
	}
	return nil
}
