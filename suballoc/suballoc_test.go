// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package suballoc

import (
	"math/rand/v2"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// catch runs fn and returns the error it panicked with, or nil.
func catch(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			require.True(t, ok, "panic value %v is not an error", r)
			err = e
		}
	}()
	fn()
	return nil
}

// fifoPump frees queued ids one per DrainOnce call, oldest first.
type fifoPump struct {
	s       *SubAllocator
	pending []ID
	calls   int
}

func (p *fifoPump) DrainOnce() bool {
	p.calls++
	if len(p.pending) == 0 {
		return false
	}
	id := p.pending[0]
	p.pending = p.pending[1:]
	p.s.Free(id)
	return true
}

func TestNewInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		count int
		align uint32
		size  uint64
	}{
		{"zero count", 0, 16, 1024},
		{"zero align", 4, 0, 1024},
		{"non power of two align", 4, 24, 1024},
		{"zero size", 4, 16, 0},
		{"size overflows offsets", 4, 16, 1 << 33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := catch(t, func() { New("cfg", tt.count, tt.align, tt.size, nil) })
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestAllocRoundsToAlignment(t *testing.T) {
	tests := []struct {
		req  uint64
		want uint32
	}{
		{0, 16},
		{1, 16},
		{16, 16},
		{17, 32},
		{100, 112},
	}
	for _, tt := range tests {
		s := New("round", 4, 16, 1024, nil)
		_, off, size := s.Alloc(tt.req)
		assert.Equal(t, uint32(0), off)
		assert.Equal(t, tt.want, size, "request %d", tt.req)
		require.NoError(t, s.Validate())
	}
}

func TestAllocFirstFitSplits(t *testing.T) {
	s := New("split", 8, 16, 256, nil)

	a, offA, sizeA := s.Alloc(32)
	b, offB, sizeB := s.Alloc(48)
	c, offC, sizeC := s.Alloc(16)

	assert.Equal(t, []uint32{0, 32, 80}, []uint32{offA, offB, offC})
	assert.Equal(t, []uint32{32, 48, 16}, []uint32{sizeA, sizeB, sizeC})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)
	assert.Equal(t, uint32(96), s.Allocated())
	require.NoError(t, s.Validate())

	st := s.Stats()
	assert.Equal(t, 3, st.Live)
	assert.Equal(t, 1, st.Available)
	assert.Equal(t, 4, st.Spare)
	assert.Equal(t, uint32(160), st.FreeBytes())
	assert.Contains(t, st.String(), "split: 96/256 bytes")
}

func TestFreeCoalesces(t *testing.T) {
	tests := []struct {
		name  string
		order []int
	}{
		{"forward", []int{0, 1, 2}},
		{"backward", []int{2, 1, 0}},
		{"middle last", []int{0, 2, 1}},
		{"middle first", []int{1, 0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("coalesce", 8, 16, 256, nil)
			ids := []ID{}
			for range 3 {
				id, _, _ := s.Alloc(64)
				ids = append(ids, id)
			}
			for _, i := range tt.order {
				s.Free(ids[i])
				require.NoError(t, s.Validate())
			}
			st := s.Stats()
			assert.Equal(t, 0, st.Live)
			assert.Equal(t, 1, st.Available, "arena should be one free sub-buffer")
			assert.Equal(t, 7, st.Spare)

			// The whole arena is usable again in one piece.
			_, off, size := s.Alloc(256)
			assert.Equal(t, uint32(0), off)
			assert.Equal(t, uint32(256), size)
		})
	}
}

func TestAllocWholeRemainderWhenNoSpare(t *testing.T) {
	s := New("two", 2, 16, 200, nil)

	a, offA, sizeA := s.Alloc(50)
	assert.Equal(t, uint32(0), offA)
	assert.Equal(t, uint32(64), sizeA)

	b, offB, sizeB := s.Alloc(60)
	assert.Equal(t, uint32(64), offB)
	assert.Equal(t, uint32(136), sizeB, "no spare record left, so the remainder is handed out whole")
	require.NoError(t, s.Validate())

	p := &fifoPump{s: s, pending: []ID{a, b}}
	s.pump = p
	id, off, size := s.Alloc(10)
	assert.Equal(t, 1, p.calls, "one drain frees A, which fits the request")
	assert.Equal(t, a, id)
	assert.Equal(t, uint32(0), off)
	assert.Equal(t, uint32(64), size)
	require.NoError(t, s.Validate())
}

func TestAllocPumpsUntilFit(t *testing.T) {
	s := New("pump", 4, 16, 128, nil)
	p := &fifoPump{s: s}
	s.pump = p

	for range 4 {
		id, _, _ := s.Alloc(32)
		p.pending = append(p.pending, id)
	}
	require.Equal(t, uint32(128), s.Allocated())

	// Freeing the first 32 bytes is not enough, freeing the second merges.
	_, off, size := s.Alloc(64)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, uint32(0), off)
	assert.Equal(t, uint32(64), size)
	assert.Equal(t, uint64(2), s.Stats().PumpCalls)
	require.NoError(t, s.Validate())
}

func TestAllocStalls(t *testing.T) {
	t.Run("nil pump", func(t *testing.T) {
		s := New("nopump", 2, 16, 64, nil)
		s.Alloc(64)
		err := catch(t, func() { s.Alloc(16) })
		assert.True(t, errors.Is(err, ErrStalled), "got %v", err)
	})

	t.Run("idle pump", func(t *testing.T) {
		calls := 0
		s := New("idle", 2, 16, 64, PumpFunc(func() bool { calls++; return false }))
		s.Alloc(64)
		err := catch(t, func() { s.Alloc(16) })
		assert.True(t, errors.Is(err, ErrStalled), "got %v", err)
		assert.Equal(t, 1, calls)
	})
}

func TestAllocCapacityExceeded(t *testing.T) {
	s := New("small", 4, 16, 100, nil)
	for _, req := range []uint64{101, 1 << 40} {
		err := catch(t, func() { s.Alloc(req) })
		assert.True(t, errors.Is(err, ErrCapacityExceeded), "request %d: got %v", req, err)
	}
}

func TestAllocCappedAtUnalignedArena(t *testing.T) {
	tests := []struct {
		name       string
		size       uint64
		req        uint64
		wantActual uint32
	}{
		{"rounds past the end", 200, 195, 200},
		{"exact size", 200, 200, 200},
		{"rounds to the end", 100, 97, 100},
		{"aligned request", 200, 192, 192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("unaligned", 2, 16, tt.size, nil)
			_, off, actual := s.Alloc(tt.req)
			assert.Equal(t, uint32(0), off)
			assert.Equal(t, tt.wantActual, actual)
			require.NoError(t, s.Validate())
		})
	}
}

func TestAllocReentrantFromPump(t *testing.T) {
	var s *SubAllocator
	s = New("reenter", 2, 16, 32, PumpFunc(func() bool {
		s.Alloc(16)
		return true
	}))
	s.Alloc(32)

	err := catch(t, func() { s.Alloc(16) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReentrantAlloc), "got %v", err)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.False(t, s.pumping, "pumping flag must be cleared after a panicking pump")
}

func TestFreeInvalid(t *testing.T) {
	s := New("double", 4, 16, 64, nil)
	id, _, _ := s.Alloc(16)
	s.Free(id)

	err := catch(t, func() { s.Free(id) })
	assert.True(t, errors.Is(err, ErrInvariantViolation), "got %v", err)
	assert.True(t, errors.HasAssertionFailure(err))

	err = catch(t, func() { s.Free(ID(99)) })
	assert.True(t, errors.Is(err, ErrInvariantViolation), "got %v", err)
}

func TestRandomizedConservation(t *testing.T) {
	const total = 4096
	rng := rand.New(rand.NewPCG(1, 2))
	s := New("random", 32, 64, total, nil)

	type live struct {
		id        ID
		off, size uint32
	}
	var held []live
	overlaps := func(a, b live) bool {
		return a.off < b.off+b.size && b.off < a.off+a.size
	}

	for step := range 2000 {
		if len(held) > 0 && (rng.IntN(2) == 0 || s.Stats().Spare == 0) {
			i := rng.IntN(len(held))
			s.Free(held[i].id)
			held = append(held[:i], held[i+1:]...)
		} else {
			req := uint64(rng.IntN(300))
			// Free until the request fits rather than relying on a pump.
			s.pump = PumpFunc(func() bool {
				if len(held) == 0 {
					return false
				}
				s.Free(held[0].id)
				held = held[1:]
				return true
			})
			id, off, size := s.Alloc(req)
			s.pump = nil
			n := live{id, off, size}
			for _, h := range held {
				require.False(t, overlaps(n, h), "step %d: %+v overlaps %+v", step, n, h)
			}
			held = append(held, n)
		}

		require.NoError(t, s.Validate(), "step %d", step)
		var sum uint32
		for _, h := range held {
			sum += h.size
			assert.Equal(t, h.off, s.Offset(h.id))
			assert.Equal(t, h.size, s.Size(h.id))
		}
		require.Equal(t, sum, s.Allocated(), "step %d", step)
		require.Equal(t, len(held), s.Stats().Live, "step %d", step)
	}
}

func BenchmarkAllocFree(b *testing.B) {
	s := New("bench", 64, 256, 1<<20, nil)
	ids := make([]ID, 0, 16)
	for b.Loop() {
		for range 16 {
			id, _, _ := s.Alloc(4096)
			ids = append(ids, id)
		}
		for _, id := range ids {
			s.Free(id)
		}
		ids = ids[:0]
	}
}
