// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpurt manages the host-side resources of a GPU compute runtime.
//
// # Overview
//
// Producers append fixed-size records to an extent ring, seal them with a
// checkpoint and take snapshots. Each snapshot is gathered into a temporary
// sub-buffer of the device arena and dispatched on a queue from a
// round-robin pool. When the device finishes, the sub-buffer, the queue and
// the snapshot's ring space are returned, in whatever order work completes.
//
// Nothing allocates on the hot path: the arenas and the queue pool are
// created once by New, and a request that cannot be served waits by draining
// completed submissions through the Scheduler.
//
// # Quick Start
//
//	dev, _ := host.New()
//	rt, err := gpurt.New(dev)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	slots := rt.NewRing(1024, 256, 16)
//	for range 100 {
//	    _, rec := slots.Reserve()
//	    fill(rec)
//	}
//	slots.Ring().Checkpoint()
//	snap := rt.Snapshot(slots.Ring())
//	if err := rt.Submit(slots, snap, kernel); err != nil {
//	    log.Fatal(err)
//	}
//	err = rt.Flush()
//
// # Packages
//
//   - suballoc: the arena sub-allocator
//   - extent: the extent ring and its snapshots
//   - cqpool: the command queue pool
//   - alloc: host and device temporary allocators
//   - device: the device abstraction, implemented by backend/host and
//     backend/wgpu
//
// # Concurrency
//
// A Runtime and everything it owns are used from one goroutine. Devices may
// complete work on other goroutines; completion callbacks still run on the
// submitting goroutine, inside Submit, Flush or Close.
package gpurt
