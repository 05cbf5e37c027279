// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package suballoc partitions one pre-allocated arena into aligned
// sub-buffers for short-lived allocations.
//
// A SubAllocator owns only bookkeeping: a fixed array of sub-buffer records
// and an id array. The bytes themselves belong to the caller, who addresses
// them with the offset and size returned by Alloc.
//
// The id array is split into three zones:
//
//	[ available ... | in use (gap) ... | ... spare ]
//	 0         avail                count-spare   count
//
// Available ids name free sub-buffers that are linked into the arena.
// Spare ids name unused records that a split can claim. The gap in between is
// as wide as the number of live allocations, so the ids of in-use records are
// implied rather than stored.
//
// Every record links to its physical neighbours by index, which lets Free
// merge a released sub-buffer with free neighbours in O(1).
//
// A SubAllocator is not safe for concurrent use.
package suballoc

import (
	"fmt"
	"math"

	"github.com/gogpu/gpurt/internal/rtlog"
)

// ID identifies a live sub-buffer. It is valid until passed to Free.
type ID uint32

// none marks a missing neighbour or an id that is not in the available zone.
const none = -1

// Pump drains completed device work, freeing whatever that work held.
//
// DrainOnce reports whether any work was outstanding. A pump that returns
// false tells the allocator that waiting longer cannot help.
//
// DrainOnce must not call Alloc on the allocator that invoked it.
type Pump interface {
	DrainOnce() bool
}

// PumpFunc adapts a function to the Pump interface.
type PumpFunc func() bool

// DrainOnce calls f.
func (f PumpFunc) DrainOnce() bool { return f() }

// subbuf is one record of the arena.
type subbuf struct {
	prev   int32 // physical predecessor record, or none
	next   int32 // physical successor record, or none
	size   uint32
	origin uint32
	idx    int32 // position in ids while available, or none
	inuse  bool
}

// SubAllocator hands out aligned sub-buffers of a fixed-size arena.
type SubAllocator struct {
	name    string
	subbufs []subbuf
	ids     []ID

	avail uint32 // ids[0:avail] are available
	spare uint32 // ids[count-spare:count] are spare

	align     uint32
	size      uint32
	allocated uint32

	pump    Pump
	pumping bool

	allocs    uint64
	frees     uint64
	pumpCalls uint64
}

// New creates a sub-allocator for an arena of size bytes split into at most
// count simultaneous sub-buffers, each aligned to align bytes.
//
// The pump is invoked whenever Alloc finds no free sub-buffer large enough.
// A nil pump makes such an Alloc panic with ErrStalled.
//
// New panics with ErrInvalidConfig if count is zero, align is not a power of
// two, size is zero, or size does not fit the 32-bit offset type.
func New(name string, count int, align uint32, size uint64, pump Pump) *SubAllocator {
	switch {
	case count <= 0 || count > math.MaxInt32:
		panic(fmt.Errorf("%w: %s: sub-buffer count %d", ErrInvalidConfig, name, count))
	case align == 0 || align&(align-1) != 0:
		panic(fmt.Errorf("%w: %s: alignment %d is not a power of two", ErrInvalidConfig, name, align))
	case size == 0 || size > math.MaxUint32:
		panic(fmt.Errorf("%w: %s: arena size %d does not fit a 32-bit offset", ErrInvalidConfig, name, size))
	}

	s := &SubAllocator{
		name:    name,
		subbufs: make([]subbuf, count),
		ids:     make([]ID, count),
		avail:   1,
		spare:   uint32(count - 1), //nolint:gosec // G115: count bounded above
		align:   align,
		size:    uint32(size),
		pump:    pump,
	}
	for i := range s.ids {
		s.ids[i] = ID(i) //nolint:gosec // G115: count bounded above
		s.subbufs[i] = subbuf{prev: none, next: none, idx: none}
	}
	// Record 0 covers the whole arena and starts out available.
	s.subbufs[0] = subbuf{prev: none, next: none, size: s.size, idx: 0}
	return s
}

// Name returns the allocator's debug name.
func (s *SubAllocator) Name() string { return s.name }

// Alignment returns the allocation granularity in bytes.
func (s *SubAllocator) Alignment() uint32 { return s.align }

// Capacity returns the arena size in bytes.
func (s *SubAllocator) Capacity() uint32 { return s.size }

// Allocated returns the number of bytes currently handed out.
func (s *SubAllocator) Allocated() uint32 { return s.allocated }

// Alloc returns a sub-buffer of at least size bytes: its id, its byte offset
// into the arena, and its actual size.
//
// The request is rounded up to the alignment (a zero-byte request takes one
// alignment unit), capped at the arena size, and served first-fit. The cap
// only matters for an arena whose size is not a multiple of the alignment:
// a request rounding past its end is served by the whole arena. A larger free sub-buffer is split
// when a spare record exists; otherwise it is handed out whole, and the
// returned size says so.
//
// When nothing fits, Alloc calls the pump until something does. It panics
// with ErrCapacityExceeded if the rounded request exceeds the arena, with
// ErrStalled if the pump reports it has nothing left to drain, and with
// ErrReentrantAlloc if called from inside this allocator's pump.
func (s *SubAllocator) Alloc(size uint64) (id ID, offset, actual uint32) {
	if s.pumping {
		panic(assertionf(ErrReentrantAlloc, "suballoc: %s: Alloc(%d) called from pump", s.name, size))
	}

	sizeRU, ok := s.roundUp(size)
	if !ok {
		panic(fmt.Errorf("%w: %s: request of %d bytes, arena is %d bytes",
			ErrCapacityExceeded, s.name, size, s.size))
	}

	stalled := false
	for waits := 0; ; waits++ {
		if id, ok := s.tryAlloc(sizeRU); ok {
			sb := &s.subbufs[id]
			s.allocs++
			return id, sb.origin, sb.size
		}
		if stalled {
			panic(fmt.Errorf("%w: %s: %d bytes requested, %d of %d bytes allocated in %d sub-buffers",
				ErrStalled, s.name, sizeRU, s.allocated, s.size, s.live()))
		}
		if waits == 0 {
			rtlog.Logger().Debug("suballoc: waiting for free sub-buffer",
				"allocator", s.name, "size", sizeRU, "allocated", s.allocated, "live", s.live())
		}
		stalled = !s.drain()
	}
}

// Free returns a sub-buffer to the arena, merging it with free physical
// neighbours. Freeing an id that is not live panics with ErrInvariantViolation.
func (s *SubAllocator) Free(id ID) {
	if int(id) >= len(s.subbufs) {
		panic(assertionf(ErrInvariantViolation, "suballoc: %s: free of unknown sub-buffer %d", s.name, id))
	}
	sb := &s.subbufs[id]
	if !sb.inuse {
		panic(assertionf(ErrInvariantViolation, "suballoc: %s: sub-buffer %d freed twice", s.name, id))
	}

	sb.inuse = false
	s.allocated -= sb.size
	s.frees++

	prev, next := sb.prev, sb.next
	prevFree := prev != none && !s.subbufs[prev].inuse
	nextFree := next != none && !s.subbufs[next].inuse

	switch {
	case prevFree:
		// Fold into the predecessor, then fold the successor in as well.
		p := &s.subbufs[prev]
		p.size += sb.size
		s.unlink(prev, next)
		s.pushSpare(id)
		if nextFree {
			n := &s.subbufs[next]
			p.size += n.size
			s.removeAvail(n.idx)
			s.unlink(prev, n.next)
			s.pushSpare(ID(next)) //nolint:gosec // G115: next is a valid index
		}
	case nextFree:
		// Fold into the successor, which takes over our origin.
		n := &s.subbufs[next]
		n.size += sb.size
		n.origin = sb.origin
		s.unlink(prev, next)
		s.pushSpare(id)
	default:
		s.addAvail(id)
	}
}

// Size returns the size of a live sub-buffer.
func (s *SubAllocator) Size(id ID) uint32 { return s.subbufs[id].size }

// Offset returns the arena offset of a live sub-buffer.
func (s *SubAllocator) Offset(id ID) uint32 { return s.subbufs[id].origin }

// IsLive reports whether id currently names an allocated sub-buffer.
func (s *SubAllocator) IsLive(id ID) bool {
	return int(id) < len(s.subbufs) && s.subbufs[id].inuse
}

// roundUp rounds size up to the alignment, capped at the arena size.
func (s *SubAllocator) roundUp(size uint64) (uint32, bool) {
	if size > uint64(s.size) {
		return 0, false
	}
	if size == 0 {
		size = 1
	}
	a := uint64(s.align)
	ru := min((size+a-1)&^(a-1), uint64(s.size))
	return uint32(ru), true
}

// tryAlloc makes one first-fit pass over the available zone.
func (s *SubAllocator) tryAlloc(sizeRU uint32) (ID, bool) {
	for i := uint32(0); i < s.avail; i++ {
		id := s.ids[i]
		sb := &s.subbufs[id]

		switch {
		case sb.size == sizeRU, sb.size > sizeRU && s.spare == 0:
			// Exact fit, or no record to split with: take it whole.
			s.removeAvail(int32(i)) //nolint:gosec // G115: i < count
			sb.inuse = true
			s.allocated += sb.size
			return id, true

		case sb.size > sizeRU:
			// Split: a spare record takes the front of this sub-buffer.
			spareID := s.popSpare()
			sp := &s.subbufs[spareID]
			*sp = subbuf{
				prev:   sb.prev,
				next:   int32(id), //nolint:gosec // G115: ids fit int32
				size:   sizeRU,
				origin: sb.origin,
				idx:    none,
				inuse:  true,
			}
			if sb.prev != none {
				s.subbufs[sb.prev].next = int32(spareID) //nolint:gosec // G115: ids fit int32
			}
			sb.prev = int32(spareID) //nolint:gosec // G115: ids fit int32
			sb.size -= sizeRU
			sb.origin += sizeRU
			s.allocated += sizeRU
			return spareID, true
		}
	}
	return 0, false
}

// drain runs the pump once and reports whether it had work to drain.
func (s *SubAllocator) drain() bool {
	if s.pump == nil {
		return false
	}
	s.pumping = true
	defer func() { s.pumping = false }()
	s.pumpCalls++
	return s.pump.DrainOnce()
}

// unlink joins prev and next, dropping whatever record sat between them.
func (s *SubAllocator) unlink(prev, next int32) {
	if prev != none {
		s.subbufs[prev].next = next
	}
	if next != none {
		s.subbufs[next].prev = prev
	}
}

func (s *SubAllocator) addAvail(id ID) {
	s.ids[s.avail] = id
	s.subbufs[id].idx = int32(s.avail) //nolint:gosec // G115: avail < count
	s.avail++
}

// removeAvail drops position i from the available zone by moving the last
// available id into its place.
func (s *SubAllocator) removeAvail(i int32) {
	s.avail--
	removed := s.ids[i]
	if uint32(i) != s.avail { //nolint:gosec // G115: i is a valid position
		last := s.ids[s.avail]
		s.ids[i] = last
		s.subbufs[last].idx = i
	}
	s.subbufs[removed].idx = none
}

func (s *SubAllocator) popSpare() ID {
	id := s.ids[uint32(len(s.ids))-s.spare] //nolint:gosec // G115: len fits uint32
	s.spare--
	return id
}

func (s *SubAllocator) pushSpare(id ID) {
	s.spare++
	s.ids[uint32(len(s.ids))-s.spare] = id //nolint:gosec // G115: len fits uint32
	s.subbufs[id] = subbuf{prev: none, next: none, idx: none}
}

// live returns the number of in-use sub-buffers.
func (s *SubAllocator) live() int {
	return len(s.ids) - int(s.avail) - int(s.spare)
}
