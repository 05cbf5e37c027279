// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package wgpu implements a device.Device on top of gogpu/wgpu's HAL.
//
// Device blocks are storage buffers. Host blocks live in host memory and
// serve as staging for uploads. Every device.Queue shares the single HAL
// queue: each submission records the submission index the HAL returns, and
// it is complete once the HAL reports that index as completed.
//
// Kernels are ComputeKernel values carrying WGSL, which is compiled to
// SPIR-V with naga and cached as a compute pipeline.
package wgpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpurt/backend"
	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
)

// Name is the registry name of the wgpu backend.
const Name = backend.WGPU

// copyAlign is the granularity of buffer writes and copies.
const copyAlign = 4

var (
	// ErrNoHAL is returned when no HAL device and queue are available: nil
	// handles passed to New, or a provider that does not expose them.
	ErrNoHAL = errors.New("wgpu: provider does not expose HAL device and queue")

	// ErrNoCompletion is returned by New when neither the HAL queue nor the
	// device reports completed submission indices.
	ErrNoCompletion = errors.New("wgpu: HAL does not report completed submissions")
)

// completionPoller reports the highest submission index the GPU has
// finished.
type completionPoller interface {
	PollCompleted() uint64
}

// halProvider is implemented by device providers that can hand out their
// underlying HAL objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// Device is a GPU compute device. It is safe for concurrent use, but queues
// and submissions follow the single-goroutine contract of device.Queue.
type Device struct {
	device hal.Device
	queue  hal.Queue
	poller completionPoller

	pipelines *pipelineCache
	closed    atomic.Bool

	mu     sync.Mutex
	blocks map[device.Block]struct{}
	queues int
}

var _ device.Device = (*Device)(nil)

// New wraps an open HAL device and its queue. The caller keeps ownership of
// both; Close releases only what this Device created.
func New(dev hal.Device, queue hal.Queue) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, errors.Wrap(ErrNoHAL, "nil device or queue")
	}
	poller, ok := queue.(completionPoller)
	if !ok {
		if poller, ok = dev.(completionPoller); !ok {
			return nil, errors.Wrapf(ErrNoCompletion, "%T", queue)
		}
	}
	return &Device{
		device:    dev,
		queue:     queue,
		poller:    poller,
		pipelines: newPipelineCache(dev),
		blocks:    make(map[device.Block]struct{}),
	}, nil
}

// NewFromProvider wraps the HAL device of a gpucontext.DeviceProvider, such
// as a gogpu application window.
func NewFromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	if p == nil {
		return nil, errors.Wrap(ErrNoHAL, "nil provider")
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, errors.Wrapf(ErrNoHAL, "%T", p)
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, errors.Wrapf(ErrNoHAL, "%T: device", p)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.Wrapf(ErrNoHAL, "%T: queue", p)
	}
	d, err := New(dev, queue)
	if err != nil {
		return nil, err
	}
	rtlog.Logger().Info("wgpu: using provider device", "provider", fmt.Sprintf("%T", p))
	return d, nil
}

// Register makes the wgpu backend available to backend.Default, opening
// devices from p.
func Register(p gpucontext.DeviceProvider) {
	backend.Register(Name, func() (device.Device, error) {
		return NewFromProvider(p)
	})
}

// Name returns "wgpu".
func (d *Device) Name() string { return Name }

// CreateQueue creates a queue over the device's HAL queue.
func (d *Device) CreateQueue(label string) (device.Queue, error) {
	if d.closed.Load() {
		return nil, errors.Wrapf(device.ErrClosed, "wgpu: create queue %q", label)
	}
	d.mu.Lock()
	d.queues++
	d.mu.Unlock()
	return &Queue{dev: d, label: label}, nil
}

// completed returns the highest submission index the GPU has finished.
func (d *Device) completed() uint64 { return d.poller.PollCompleted() }

// AllocBlock creates a storage buffer. The returned block has no host view.
func (d *Device) AllocBlock(flags device.MemFlags, size uint64) (device.Block, error) {
	if d.closed.Load() {
		return nil, errors.Wrapf(device.ErrClosed, "wgpu: alloc %d bytes", size)
	}
	size = alignUp(max(size, copyAlign), copyAlign)
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("gpurt-%s-%d", flags, size),
		Size:  size,
		Usage: bufferUsage(flags),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "wgpu: create %s buffer of %d bytes", flags, size)
	}
	b := &Block{buf: buf, size: size, flags: flags}
	d.track(b)
	return b, nil
}

// AllocHostBlock allocates host memory used to stage uploads.
func (d *Device) AllocHostBlock(size uint64) (device.Block, error) {
	if d.closed.Load() {
		return nil, errors.Wrapf(device.ErrClosed, "wgpu: alloc host %d bytes", size)
	}
	b := &Block{host: make([]byte, size), size: size, flags: device.ReadWrite}
	d.track(b)
	return b, nil
}

func (d *Device) track(b *Block) {
	d.mu.Lock()
	d.blocks[b] = struct{}{}
	d.mu.Unlock()
}

// FreeBlock releases a block allocated by this device.
func (d *Device) FreeBlock(b device.Block) {
	d.mu.Lock()
	_, live := d.blocks[b]
	delete(d.blocks, b)
	d.mu.Unlock()
	if !live {
		rtlog.Logger().Warn("wgpu: free of unknown block", "type", fmt.Sprintf("%T", b))
		return
	}
	d.release(b.(*Block))
}

func (d *Device) release(b *Block) {
	if b.buf != nil {
		d.device.DestroyBuffer(b.buf)
		b.buf = nil
	}
	b.host = nil
}

// LiveBlocks returns the number of allocated, not yet freed blocks.
func (d *Device) LiveBlocks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.blocks)
}

// Queues returns the number of queues not yet destroyed.
func (d *Device) Queues() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues
}

// Close releases cached pipelines and any blocks still allocated. The HAL
// device itself stays open.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.pipelines.destroy()

	d.mu.Lock()
	leaked := d.blocks
	d.blocks = make(map[device.Block]struct{})
	queues := d.queues
	d.mu.Unlock()

	if len(leaked) > 0 || queues > 0 {
		rtlog.Logger().Warn("wgpu: closing device with live resources", "blocks", len(leaked), "queues", queues)
	}
	for b := range leaked {
		d.release(b.(*Block))
	}
	return nil
}

// Block is a wgpu storage buffer or a host staging block.
type Block struct {
	buf   hal.Buffer
	host  []byte
	size  uint64
	flags device.MemFlags
}

// Size returns the block size in bytes, rounded up to the copy alignment for
// device blocks.
func (b *Block) Size() uint64 { return b.size }

// Flags returns the access flags the block was created with.
func (b *Block) Flags() device.MemFlags { return b.flags }

// Bytes returns the host memory of a host block, or nil for a device block.
func (b *Block) Bytes() []byte { return b.host }

// Buffer returns the HAL buffer of a device block, or nil for a host block.
func (b *Block) Buffer() hal.Buffer { return b.buf }

// bufferUsage returns the usage of a device block. Every block is a copy
// destination for uploads and a copy source for readback; flags restrict
// kernel access at binding time.
func bufferUsage(device.MemFlags) gputypes.BufferUsage {
	return gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
