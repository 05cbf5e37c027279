// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpurt

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/alloc"
	"github.com/gogpu/gpurt/cqpool"
	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/extent"
	"github.com/gogpu/gpurt/internal/rtlog"
	"github.com/gogpu/gpurt/suballoc"
)

// Runtime ties the arenas, the queue pool and the scheduler to one device.
type Runtime struct {
	dev   device.Device
	cfg   Config
	sched *Scheduler

	host    *alloc.HostAllocator
	temps   *alloc.DeviceAllocator
	queues  *cqpool.Pool
	scratch []byte

	err    error // completion errors not yet returned by Flush
	closed bool

	submits uint64
	empty   uint64
	bytes   uint64
}

// New creates a runtime on dev. The runtime does not take ownership of dev.
func New(dev device.Device, opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}
	if err := validateArena("host", cfg.Host); err != nil {
		return nil, err
	}
	if err := validateArena("device", cfg.Device); err != nil {
		return nil, err
	}

	r := &Runtime{dev: dev, cfg: cfg, sched: NewScheduler()}

	var err error
	if r.host, err = alloc.NewHost(dev, cfg.Host, r.sched); err != nil {
		return nil, errors.Wrap(err, "gpurt")
	}
	if r.temps, err = alloc.NewDevice(dev, cfg.Device, r.sched); err != nil {
		r.host.Close()
		return nil, errors.Wrap(err, "gpurt")
	}
	r.queues, err = cqpool.New(dev, cfg.QueueCategory, cfg.Queues,
		cqpool.WithPolicy(cfg.Policy), cqpool.WithPump(r.sched))
	if err != nil {
		r.temps.Close()
		r.host.Close()
		return nil, errors.Wrap(err, "gpurt")
	}

	rtlog.Logger().Info("gpurt: runtime opened",
		"backend", dev.Name(),
		"host_arena", cfg.Host.Size,
		"device_arena", cfg.Device.Size,
		"queues", cfg.Queues,
		"policy", cfg.Policy)
	return r, nil
}

func validateArena(name string, c alloc.Config) error {
	switch {
	case c.Size == 0 || c.Size > math.MaxUint32:
		return fmt.Errorf("%w: %s arena size %d", suballoc.ErrInvalidConfig, name, c.Size)
	case c.SubBuffers <= 0:
		return fmt.Errorf("%w: %s arena sub-buffers %d", suballoc.ErrInvalidConfig, name, c.SubBuffers)
	case c.Alignment == 0 || c.Alignment&(c.Alignment-1) != 0:
		return fmt.Errorf("%w: %s arena alignment %d", suballoc.ErrInvalidConfig, name, c.Alignment)
	}
	return nil
}

// Device returns the device the runtime was created on.
func (r *Runtime) Device() device.Device { return r.dev }

// Config returns the effective configuration.
func (r *Runtime) Config() Config { return r.cfg }

// HostAllocator returns the allocator of snapshot metadata.
func (r *Runtime) HostAllocator() *alloc.HostAllocator { return r.host }

// DeviceAllocator returns the allocator of gathered snapshot data.
func (r *Runtime) DeviceAllocator() *alloc.DeviceAllocator { return r.temps }

// Queues returns the queue pool.
func (r *Runtime) Queues() *cqpool.Pool { return r.queues }

// Scheduler returns the scheduler that drains completed submissions.
func (r *Runtime) Scheduler() *Scheduler { return r.sched }

// NewRing creates an extent ring of capacity records of elemSize bytes,
// at most maxPerSnapshot of them in flight between checkpoints, and returns
// its record storage. Use Slots.Ring to reach the ring.
func (r *Runtime) NewRing(capacity, maxPerSnapshot, elemSize uint32) *extent.Slots {
	return extent.NewSlots(extent.NewRing(capacity, maxPerSnapshot, elemSize))
}

// Snapshot captures the sealed records of ring, with its metadata in the
// runtime's host arena. It panics with ErrClosed after Close.
func (r *Runtime) Snapshot(ring *extent.Ring) *extent.Snapshot {
	if r.closed {
		panic(errors.WithStack(ErrClosed))
	}
	return ring.SnapshotAlloc(r.host)
}

// Submit gathers the records of snap into a device temporary and runs
// kernel on it. The kernel sees the temporary as its first binding,
// read-only and sized to the gathered bytes, followed by extra.
//
// Submit takes ownership of snap when it returns nil: once the device has
// finished, the temporary, the queue and the snapshot are all freed. An
// empty snapshot is freed at once without device work. On error the snapshot
// stays with the caller.
//
// Submit may block draining earlier work when the queue pool or the device
// arena is exhausted.
func (r *Runtime) Submit(slots *extent.Slots, snap *extent.Snapshot, kernel device.Kernel, extra ...device.Binding) error {
	if r.closed {
		return ErrClosed
	}
	ring := slots.Ring()
	if snap.Ring() != ring {
		return errors.WithStack(ErrForeignSnapshot)
	}
	if snap.Count() == 0 {
		ring.SnapshotFree(r.host, snap)
		r.empty++
		return nil
	}

	q, err := r.queues.Acquire()
	if err != nil {
		return errors.Wrap(err, "gpurt: submit")
	}

	size := uint64(snap.Count()) * uint64(ring.ElemSize())
	temp := r.temps.TempAlloc(device.ReadOnly, size)
	r.scratch = slots.Gather(snap, r.scratch[:0])

	input := temp.Binding()
	input.Size = size
	bindings := make([]device.Binding, 0, 1+len(extra))
	bindings = append(bindings, input)
	bindings = append(bindings, extra...)

	label := fmt.Sprintf("snapshot [%d,%d)", snap.Reads(), snap.Writes())
	sub, err := q.Submit(device.Work{
		Label:    label,
		Writes:   []device.Write{{Block: temp.Block(), Offset: temp.Offset(), Data: r.scratch}},
		Kernel:   kernel,
		Bindings: bindings,
	})
	if err != nil {
		r.temps.TempFree(temp)
		r.queues.Release(q)
		return errors.Wrapf(err, "gpurt: submit %s", label)
	}

	r.submits++
	r.bytes += size
	rtlog.Logger().Debug("gpurt: submitted snapshot",
		"queue", q.Label(), "count", snap.Count(), "bytes", size, "in_flight", r.sched.InFlight()+1)

	r.sched.Track(sub, func(err error) {
		r.temps.TempFree(temp)
		r.queues.Release(q)
		ring.SnapshotFree(r.host, snap)
		if err != nil {
			rtlog.Logger().Warn("gpurt: submission failed", "work", label, "error", err)
			r.err = errors.CombineErrors(r.err, errors.Wrapf(err, "gpurt: %s", label))
		}
	})
	return nil
}

// Poll runs the callbacks of submissions that have already completed,
// without blocking, and returns the number still in flight.
func (r *Runtime) Poll() int {
	r.sched.Reap()
	return r.sched.InFlight()
}

// Flush waits for every submission and returns the errors reported by the
// device since the last Flush.
func (r *Runtime) Flush() error {
	r.sched.Finish()
	err := r.err
	r.err = nil
	return err
}

// Close flushes outstanding work and releases the arenas and queues. The
// device stays open. It returns any completion errors not yet reported.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	err := r.Flush()
	r.closed = true
	r.queues.Close()
	r.temps.Close()
	r.host.Close()
	rtlog.Logger().Info("gpurt: runtime closed", "backend", r.dev.Name(), "submits", r.submits, "empty", r.empty)
	return err
}
