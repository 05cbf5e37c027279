// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpurt

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpurt/suballoc"
)

// Stats is a point-in-time view of a Runtime.
type Stats struct {
	Backend string

	Host   suballoc.Stats
	Device suballoc.Stats

	QueueCapacity     int
	QueuesOutstanding int

	// InFlight counts submissions whose completion has not been processed.
	InFlight int

	// Submits counts snapshots sent to the device, Empty those freed without
	// device work, and Completed the processed completions.
	Submits   uint64
	Empty     uint64
	Completed uint64

	// Waits counts drains that had to block on the device.
	Waits uint64

	// GatheredBytes is the total size of snapshot data uploaded.
	GatheredBytes uint64
}

// String returns a multi-line human-readable summary.
func (s Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "backend %s: submits=%d empty=%d completed=%d in-flight=%d waits=%d gathered=%dB\n",
		s.Backend, s.Submits, s.Empty, s.Completed, s.InFlight, s.Waits, s.GatheredBytes)
	fmt.Fprintf(&sb, "  queues: %d/%d outstanding\n", s.QueuesOutstanding, s.QueueCapacity)
	fmt.Fprintf(&sb, "  %s\n", s.Host)
	fmt.Fprintf(&sb, "  %s", s.Device)
	return sb.String()
}

// Stats returns the current runtime statistics.
func (r *Runtime) Stats() Stats {
	return Stats{
		Backend:           r.dev.Name(),
		Host:              r.host.Stats(),
		Device:            r.temps.Stats(),
		QueueCapacity:     r.queues.Capacity(),
		QueuesOutstanding: r.queues.Outstanding(),
		InFlight:          r.sched.InFlight(),
		Submits:           r.submits,
		Empty:             r.empty,
		Completed:         r.sched.Completed(),
		Waits:             r.sched.Waits(),
		GatheredBytes:     r.bytes,
	}
}

// Validate checks the internal consistency of both arenas.
func (r *Runtime) Validate() error {
	if err := r.host.Validate(); err != nil {
		return err
	}
	return r.temps.Validate()
}
