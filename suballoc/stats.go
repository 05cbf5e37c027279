// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package suballoc

import (
	"fmt"
)

// Stats is a point-in-time view of a SubAllocator.
type Stats struct {
	// Name is the allocator's debug name.
	Name string

	// TotalBytes is the arena size.
	TotalBytes uint32

	// AllocatedBytes is the sum of live sub-buffer sizes.
	AllocatedBytes uint32

	// Live, Available and Spare count records in each zone of the id array.
	Live      int
	Available int
	Spare     int

	// Allocs and Frees count completed calls since creation.
	Allocs uint64
	Frees  uint64

	// PumpCalls counts how often Alloc had to drain the pump.
	PumpCalls uint64
}

// FreeBytes returns the bytes not handed out.
func (s Stats) FreeBytes() uint32 { return s.TotalBytes - s.AllocatedBytes }

// Utilization returns the allocated share of the arena in percent.
func (s Stats) Utilization() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.AllocatedBytes) / float64(s.TotalBytes) * 100
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("%s: %d/%d bytes (%.1f%%), live=%d avail=%d spare=%d, allocs=%d frees=%d pumps=%d",
		s.Name, s.AllocatedBytes, s.TotalBytes, s.Utilization(),
		s.Live, s.Available, s.Spare, s.Allocs, s.Frees, s.PumpCalls)
}

// Stats returns the current allocator statistics.
func (s *SubAllocator) Stats() Stats {
	return Stats{
		Name:           s.name,
		TotalBytes:     s.size,
		AllocatedBytes: s.allocated,
		Live:           s.live(),
		Available:      int(s.avail),
		Spare:          int(s.spare),
		Allocs:         s.allocs,
		Frees:          s.frees,
		PumpCalls:      s.pumpCalls,
	}
}

// Validate walks the physical chain and the id zones and reports the first
// inconsistency found. It is meant for tests and debugging.
func (s *SubAllocator) Validate() error {
	count := len(s.subbufs)
	if int(s.avail)+int(s.spare) > count {
		return fmt.Errorf("%w: %s: avail %d + spare %d exceeds %d records",
			ErrInvariantViolation, s.name, s.avail, s.spare, count)
	}

	// Classify every record through the zones that are stored explicitly.
	const (
		unseen = iota
		inAvail
		inSpare
	)
	zone := make([]int, count)
	for i := 0; i < int(s.avail); i++ {
		id := s.ids[i]
		if zone[id] != unseen {
			return fmt.Errorf("%w: %s: id %d listed twice", ErrInvariantViolation, s.name, id)
		}
		zone[id] = inAvail
		sb := s.subbufs[id]
		if sb.inuse || int(sb.idx) != i {
			return fmt.Errorf("%w: %s: available id %d has inuse=%v idx=%d, want idx %d",
				ErrInvariantViolation, s.name, id, sb.inuse, sb.idx, i)
		}
	}
	for i := count - int(s.spare); i < count; i++ {
		id := s.ids[i]
		if zone[id] != unseen {
			return fmt.Errorf("%w: %s: id %d listed twice", ErrInvariantViolation, s.name, id)
		}
		zone[id] = inSpare
		if s.subbufs[id].inuse {
			return fmt.Errorf("%w: %s: spare id %d is in use", ErrInvariantViolation, s.name, id)
		}
	}

	// Find the head of the physical chain: the linked record at origin 0.
	head := none
	for i := range s.subbufs {
		if zone[i] != inSpare && s.subbufs[i].prev == none {
			if head != none {
				return fmt.Errorf("%w: %s: records %d and %d both start the arena",
					ErrInvariantViolation, s.name, head, i)
			}
			head = i
		}
	}
	if head == none {
		return fmt.Errorf("%w: %s: no record starts the arena", ErrInvariantViolation, s.name)
	}

	var (
		origin    uint32
		allocated uint32
		live      int
		linked    int
		prevFree  bool
		prev      = int32(none)
	)
	for cur := int32(head); cur != none; cur = s.subbufs[cur].next { //nolint:gosec // G115: head < count
		sb := s.subbufs[cur]
		linked++
		if linked > count {
			return fmt.Errorf("%w: %s: physical chain has a cycle", ErrInvariantViolation, s.name)
		}
		if zone[cur] == inSpare {
			return fmt.Errorf("%w: %s: spare id %d is linked", ErrInvariantViolation, s.name, cur)
		}
		if sb.prev != prev {
			return fmt.Errorf("%w: %s: record %d prev=%d, want %d", ErrInvariantViolation, s.name, cur, sb.prev, prev)
		}
		if sb.origin != origin {
			return fmt.Errorf("%w: %s: record %d origin=%d, want %d", ErrInvariantViolation, s.name, cur, sb.origin, origin)
		}
		if sb.size == 0 || sb.size%s.align != 0 && sb.origin+sb.size != s.size {
			return fmt.Errorf("%w: %s: record %d has size %d", ErrInvariantViolation, s.name, cur, sb.size)
		}
		if sb.inuse {
			live++
			allocated += sb.size
			prevFree = false
		} else {
			if zone[cur] != inAvail {
				return fmt.Errorf("%w: %s: free record %d is not available", ErrInvariantViolation, s.name, cur)
			}
			if prevFree {
				return fmt.Errorf("%w: %s: free record %d follows a free record", ErrInvariantViolation, s.name, cur)
			}
			prevFree = true
		}
		origin += sb.size
		prev = cur
	}

	switch {
	case origin != s.size:
		return fmt.Errorf("%w: %s: records cover %d of %d bytes", ErrInvariantViolation, s.name, origin, s.size)
	case allocated != s.allocated:
		return fmt.Errorf("%w: %s: %d bytes live, counter says %d", ErrInvariantViolation, s.name, allocated, s.allocated)
	case live != s.live():
		return fmt.Errorf("%w: %s: %d live records, zones imply %d", ErrInvariantViolation, s.name, live, s.live())
	case linked+int(s.spare) != count:
		return fmt.Errorf("%w: %s: %d linked + %d spare != %d records",
			ErrInvariantViolation, s.name, linked, s.spare, count)
	}
	return nil
}
