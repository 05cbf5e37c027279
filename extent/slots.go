// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package extent

// Slots stores one fixed-size record per ring element. The record contents
// are opaque to the ring.
type Slots struct {
	ring *Ring
	data []byte
}

// NewSlots allocates capacity × element size bytes for ring.
func NewSlots(ring *Ring) *Slots {
	return &Slots{
		ring: ring,
		data: make([]byte, int(ring.capacity)*int(ring.elemSize)),
	}
}

// Ring returns the ring the slots belong to.
func (sl *Slots) Ring() *Ring { return sl.ring }

// Reserve reserves the next ring element and returns its index and record.
// It panics like Ring.ReserveSlot when the ring is full.
func (sl *Slots) Reserve() (uint32, []byte) {
	idx := sl.ring.ReserveSlot()
	return idx, sl.Slot(idx)
}

// Slot returns the record of element idx.
func (sl *Slots) Slot(idx uint32) []byte {
	es := int(sl.ring.elemSize)
	off := int(idx&sl.ring.mask) * es
	return sl.data[off : off+es : off+es]
}

// Bytes returns the records of span in one slice.
func (sl *Slots) Bytes(span Span) []byte {
	es := int(sl.ring.elemSize)
	off := int(span.Start) * es
	end := off + int(span.Count)*es
	return sl.data[off:end:end]
}

// Gather appends the records of snap to dst in element order and returns the
// extended slice. A wrapped snapshot comes out contiguous.
func (sl *Slots) Gather(snap *Snapshot, dst []byte) []byte {
	lo, hi := snap.Spans()
	dst = append(dst, sl.Bytes(lo)...)
	return append(dst, sl.Bytes(hi)...)
}
