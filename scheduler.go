// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpurt

import (
	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
)

// Scheduler tracks in-flight submissions and runs their completion
// callbacks. It is the pump of the runtime's allocators and queue pool.
//
// A Scheduler is not safe for concurrent use; callbacks run on the goroutine
// that calls DrainOnce or Finish.
type Scheduler struct {
	inflight []tracked

	completed uint64
	waits     uint64
}

type tracked struct {
	sub        device.Submission
	onComplete func(error)
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Track registers sub. onComplete runs once, with the submission's error,
// after the device has finished it.
func (s *Scheduler) Track(sub device.Submission, onComplete func(error)) {
	s.inflight = append(s.inflight, tracked{sub: sub, onComplete: onComplete})
}

// InFlight returns the number of tracked submissions whose callbacks have not
// run yet.
func (s *Scheduler) InFlight() int { return len(s.inflight) }

// Completed returns the number of callbacks run so far.
func (s *Scheduler) Completed() uint64 { return s.completed }

// Waits returns how many times DrainOnce had to block.
func (s *Scheduler) Waits() uint64 { return s.waits }

// Reap runs the callback of every submission that has completed and returns
// how many ran. It never blocks.
func (s *Scheduler) Reap() int {
	// Split completed entries off before running any callback, so a callback
	// may Track new work.
	var ready []tracked
	keep := s.inflight[:0]
	for _, t := range s.inflight {
		if t.sub.Done() {
			ready = append(ready, t)
		} else {
			keep = append(keep, t)
		}
	}
	clear(s.inflight[len(keep):])
	s.inflight = keep

	for _, t := range ready {
		s.finish(t)
	}
	return len(ready)
}

// DrainOnce runs the callback of every submission that has completed. If
// none has, it blocks on the oldest one and runs its callback. It returns
// false only when nothing was in flight.
func (s *Scheduler) DrainOnce() bool {
	if len(s.inflight) == 0 {
		return false
	}
	if s.Reap() > 0 {
		return true
	}

	rtlog.Logger().Debug("gpurt: waiting for oldest submission", "in_flight", len(s.inflight))
	oldest := s.inflight[0]
	s.inflight[0] = tracked{}
	s.inflight = s.inflight[1:]
	s.waits++
	s.finish(oldest)
	return true
}

func (s *Scheduler) finish(t tracked) {
	err := t.sub.Wait()
	s.completed++
	if t.onComplete != nil {
		t.onComplete(err)
	}
}

// Finish drains until nothing is in flight.
func (s *Scheduler) Finish() {
	for s.DrainOnce() {
	}
}
