// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package host implements a device.Device on the CPU.
//
// Blocks are anonymous memory mappings, so every block is host-visible.
// Queues run submitted kernels on a shared worker pool. Submissions from one
// queue may therefore complete out of order, which is the behaviour the
// runtime must tolerate from real devices as well.
//
// Importing the package registers the "host" backend.
package host

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/backend"
	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/parallel"
	"github.com/gogpu/gpurt/internal/rtlog"
)

// Name is the registry name of the host backend.
const Name = backend.Host

func init() {
	backend.Register(Name, func() (device.Device, error) {
		return New(), nil
	})
}

// Option configures a host Device.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers sets the number of kernel worker goroutines.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// Device is a CPU compute device. It is safe for concurrent use.
type Device struct {
	pool   *parallel.Pool
	closed atomic.Bool

	mu     sync.Mutex
	blocks map[*Block]struct{}
	queues int
}

var _ device.Device = (*Device)(nil)

// New creates a host device.
func New(opts ...Option) *Device {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		pool:   parallel.NewPool(o.workers),
		blocks: make(map[*Block]struct{}),
	}
	rtlog.Logger().Debug("host: device created", "workers", d.pool.Workers())
	return d
}

// Name returns "host".
func (d *Device) Name() string { return Name }

// Workers returns the number of kernel worker goroutines.
func (d *Device) Workers() int { return d.pool.Workers() }

// CreateQueue creates a queue executing on the device's worker pool.
func (d *Device) CreateQueue(label string) (device.Queue, error) {
	if d.closed.Load() {
		return nil, errors.Wrapf(device.ErrClosed, "host: create queue %q", label)
	}
	d.mu.Lock()
	d.queues++
	d.mu.Unlock()
	return newQueue(d, label), nil
}

// AllocBlock allocates a block. On the host every block is host-visible.
func (d *Device) AllocBlock(flags device.MemFlags, size uint64) (device.Block, error) {
	return d.alloc(flags, size)
}

// AllocHostBlock allocates a ReadWrite block.
func (d *Device) AllocHostBlock(size uint64) (device.Block, error) {
	return d.alloc(device.ReadWrite, size)
}

func (d *Device) alloc(flags device.MemFlags, size uint64) (*Block, error) {
	if d.closed.Load() {
		return nil, errors.Wrapf(device.ErrClosed, "host: alloc %d bytes", size)
	}
	if size > uint64(maxBlockSize) {
		return nil, errors.Newf("host: block of %d bytes exceeds %d", size, maxBlockSize)
	}
	b, err := newBlock(flags, size)
	if err != nil {
		return nil, errors.Wrapf(err, "host: map %d bytes", size)
	}
	d.mu.Lock()
	d.blocks[b] = struct{}{}
	d.mu.Unlock()
	return b, nil
}

// maxBlockSize bounds a single block to what an int length can address.
const maxBlockSize = int(^uint(0) >> 1)

// FreeBlock releases a block allocated by this device.
func (d *Device) FreeBlock(b device.Block) {
	hb, ok := b.(*Block)
	if !ok {
		rtlog.Logger().Warn("host: free of foreign block", "type", fmt.Sprintf("%T", b))
		return
	}
	d.mu.Lock()
	_, live := d.blocks[hb]
	delete(d.blocks, hb)
	d.mu.Unlock()
	if !live {
		rtlog.Logger().Warn("host: free of unknown block", "size", hb.Size())
		return
	}
	if err := hb.release(); err != nil {
		rtlog.Logger().Warn("host: unmap failed", "size", hb.Size(), "error", err)
	}
}

// Queues returns the number of queues not yet destroyed.
func (d *Device) Queues() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues
}

// LiveBlocks returns the number of allocated, not yet freed blocks.
func (d *Device) LiveBlocks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.blocks)
}

// Close waits for queued kernels and releases any blocks still allocated.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.pool.Close()

	d.mu.Lock()
	leaked := d.blocks
	d.blocks = make(map[*Block]struct{})
	d.mu.Unlock()

	var errs error
	if len(leaked) > 0 {
		rtlog.Logger().Warn("host: closing device with live blocks", "blocks", len(leaked))
	}
	for b := range leaked {
		errs = errors.CombineErrors(errs, b.release())
	}
	return errs
}
