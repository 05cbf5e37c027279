// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package alloc provides the temporary allocators of the runtime.
//
// A HostAllocator and a DeviceAllocator each own one arena block obtained
// from a device.Device and one suballoc.SubAllocator that partitions it.
// Allocations are short-lived: they are released once the device work that
// uses them has completed, which is why both allocators block on a pump
// rather than grow.
package alloc

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
	"github.com/gogpu/gpurt/suballoc"
)

var (
	// ErrNotHostVisible is returned when a device hands out a host arena
	// without a host mapping.
	ErrNotHostVisible = errors.New("alloc: host arena is not host-visible")

	// ErrForeignTemp is raised when a Temp is freed to an allocator that
	// did not create it.
	ErrForeignTemp = errors.New("alloc: temp belongs to another allocator")

	// ErrArenaClosed is raised when allocating from a closed allocator.
	ErrArenaClosed = errors.New("alloc: arena closed")
)

// Config sizes one arena.
type Config struct {
	// Size is the arena size in bytes.
	Size uint64

	// SubBuffers is the maximum number of simultaneous allocations.
	SubBuffers int

	// Alignment is the allocation granularity, a power of two.
	Alignment uint32
}

// Temp is a live temporary allocation. It is a view into the allocator's
// arena and must not be used after it has been freed.
type Temp struct {
	id     suballoc.ID
	offset uint32
	size   uint32
	flags  device.MemFlags
	block  device.Block
}

// ID returns the sub-allocator id backing t.
func (t Temp) ID() suballoc.ID { return t.id }

// Offset returns the byte offset of t within its arena block.
func (t Temp) Offset() uint64 { return uint64(t.offset) }

// Size returns the usable size of t, which may exceed the requested size.
func (t Temp) Size() uint64 { return uint64(t.size) }

// Flags returns the access flags requested for t.
func (t Temp) Flags() device.MemFlags { return t.flags }

// Block returns the arena block t lives in.
func (t Temp) Block() device.Block { return t.block }

// IsZero reports whether t is the zero Temp.
func (t Temp) IsZero() bool { return t.block == nil }

// Bytes returns the host view of t, or nil for device-local arenas.
func (t Temp) Bytes() []byte {
	if t.block == nil {
		return nil
	}
	b := t.block.Bytes()
	if b == nil {
		return nil
	}
	end := t.offset + t.size
	return b[t.offset:end:end]
}

// Binding exposes t to a kernel with its recorded flags.
func (t Temp) Binding() device.Binding {
	return device.Binding{Block: t.block, Offset: uint64(t.offset), Size: uint64(t.size), Flags: t.flags}
}

// arena is the state shared by both allocators.
type arena struct {
	dev   device.Device
	block device.Block
	sub   *suballoc.SubAllocator
}

func newArena(dev device.Device, block device.Block, name string, cfg Config, pump suballoc.Pump) *arena {
	return &arena{
		dev:   dev,
		block: block,
		sub:   suballoc.New(name, cfg.SubBuffers, cfg.Alignment, cfg.Size, pump),
	}
}

func (a *arena) alloc(flags device.MemFlags, size uint64) Temp {
	if a.block == nil {
		panic(errors.WithStack(errors.Wrap(ErrArenaClosed, a.sub.Name())))
	}
	id, off, n := a.sub.Alloc(size)
	return Temp{id: id, offset: off, size: n, flags: flags, block: a.block}
}

// free returns t to the arena. Temps outliving a closed arena are dropped.
func (a *arena) free(t Temp) {
	if a.block == nil {
		return
	}
	if t.block != a.block {
		panic(errors.WithAssertionFailure(errors.Wrapf(ErrForeignTemp, "%s: temp %d", a.sub.Name(), t.id)))
	}
	a.sub.Free(t.id)
}

func (a *arena) close() {
	if a.block == nil {
		return
	}
	if st := a.sub.Stats(); st.Live > 0 {
		rtlog.Logger().Warn("alloc: closing arena with live allocations",
			"arena", st.Name, "live", st.Live, "bytes", st.AllocatedBytes)
	}
	a.dev.FreeBlock(a.block)
	a.block = nil
}

// HostAllocator hands out temporary allocations in host-visible memory.
// It is not safe for concurrent use.
type HostAllocator struct {
	a *arena
}

// NewHost allocates a host-visible arena from dev and partitions it per cfg.
// The pump is called whenever an allocation has to wait.
func NewHost(dev device.Device, cfg Config, pump suballoc.Pump) (*HostAllocator, error) {
	block, err := dev.AllocHostBlock(cfg.Size)
	if err != nil {
		return nil, errors.Wrapf(err, "alloc: host arena of %d bytes on %s", cfg.Size, dev.Name())
	}
	if block.Bytes() == nil {
		dev.FreeBlock(block)
		return nil, errors.Wrapf(ErrNotHostVisible, "device %s", dev.Name())
	}
	return &HostAllocator{a: newArena(dev, block, "host temp", cfg, pump)}, nil
}

// TempAlloc allocates size bytes, waiting on the pump if the arena is full.
// The flags are recorded on the Temp.
func (h *HostAllocator) TempAlloc(flags device.MemFlags, size uint64) Temp {
	return h.a.alloc(flags, size)
}

// TempFree releases t.
func (h *HostAllocator) TempFree(t Temp) { h.a.free(t) }

// Block returns the arena block.
func (h *HostAllocator) Block() device.Block { return h.a.block }

// Stats returns the arena statistics.
func (h *HostAllocator) Stats() suballoc.Stats { return h.a.sub.Stats() }

// Validate checks the arena bookkeeping.
func (h *HostAllocator) Validate() error { return h.a.sub.Validate() }

// Close returns the arena to the device.
func (h *HostAllocator) Close() { h.a.close() }

// DeviceAllocator hands out temporary allocations in device-local memory.
// It is not safe for concurrent use.
type DeviceAllocator struct {
	a *arena
}

// NewDevice allocates a device-local arena from dev and partitions it per cfg.
func NewDevice(dev device.Device, cfg Config, pump suballoc.Pump) (*DeviceAllocator, error) {
	block, err := dev.AllocBlock(device.ReadWrite, cfg.Size)
	if err != nil {
		return nil, errors.Wrapf(err, "alloc: device arena of %d bytes on %s", cfg.Size, dev.Name())
	}
	return &DeviceAllocator{a: newArena(dev, block, "device temp", cfg, pump)}, nil
}

// TempAlloc allocates size bytes, waiting on the pump if the arena is full.
// The flags select how kernels may access the allocation.
func (d *DeviceAllocator) TempAlloc(flags device.MemFlags, size uint64) Temp {
	return d.a.alloc(flags, size)
}

// TempFree releases t.
func (d *DeviceAllocator) TempFree(t Temp) { d.a.free(t) }

// Block returns the arena block.
func (d *DeviceAllocator) Block() device.Block { return d.a.block }

// Stats returns the arena statistics.
func (d *DeviceAllocator) Stats() suballoc.Stats { return d.a.sub.Stats() }

// Validate checks the arena bookkeeping.
func (d *DeviceAllocator) Validate() error { return d.a.sub.Validate() }

// Close returns the arena to the device.
func (d *DeviceAllocator) Close() { d.a.close() }
