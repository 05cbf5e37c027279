// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package extent

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/alloc"
)

// metaSize is the size of a snapshot's metadata record:
// reads, writes, count and element size as little-endian uint32.
const metaSize = 16

// Snapshot is an immutable range of ring elements handed to a consumer.
type Snapshot struct {
	ring   *Ring
	reads  uint32
	writes uint32
	free   bool
	meta   alloc.Temp
}

// Span is a physically contiguous run of ring indices.
type Span struct {
	Start uint32
	Count uint32
}

// Ring returns the ring the snapshot was taken from.
func (s *Snapshot) Ring() *Ring { return s.ring }

// Reads returns the first element counter covered by the snapshot.
func (s *Snapshot) Reads() uint32 { return s.reads }

// Writes returns the counter one past the last covered element.
func (s *Snapshot) Writes() uint32 { return s.writes }

// Count returns the number of elements in the snapshot.
func (s *Snapshot) Count() uint32 { return s.writes - s.reads }

// From returns the ring index of the first element.
func (s *Snapshot) From() uint32 { return s.reads & s.ring.mask }

// To returns the ring index one past the last element, wrapped.
func (s *Snapshot) To() uint32 { return s.writes & s.ring.mask }

// IsFree reports whether SnapshotFree has been called.
func (s *Snapshot) IsFree() bool { return s.free }

// Meta returns the snapshot's metadata record in host memory. It is the zero
// Temp once the snapshot has been reclaimed.
func (s *Snapshot) Meta() alloc.Temp { return s.meta }

// Spans splits the snapshot at the end of the ring. lo starts at From; hi,
// when non-empty, continues at index 0.
func (s *Snapshot) Spans() (lo, hi Span) {
	from, count := s.From(), s.Count()
	if first := s.ring.capacity - from; count > first {
		return Span{Start: from, Count: first}, Span{Start: 0, Count: count - first}
	}
	return Span{Start: from, Count: count}, Span{}
}

func (s *Snapshot) encodeMeta() {
	b := s.meta.Bytes()
	if len(b) < metaSize {
		return
	}
	binary.LittleEndian.PutUint32(b[0:], s.reads)
	binary.LittleEndian.PutUint32(b[4:], s.writes)
	binary.LittleEndian.PutUint32(b[8:], s.Count())
	binary.LittleEndian.PutUint32(b[12:], s.ring.elemSize)
}

func assertionf(format string, args ...any) error {
	return errors.WithAssertionFailure(errors.Wrapf(ErrInvariantViolation, format, args...))
}
