// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/atomicring"
	"github.com/gogpu/gpurt/device"
)

// Func is a host kernel. It receives the work's bindings in order and runs
// on a worker goroutine after the work's writes have landed.
type Func func(bindings []device.Binding) error

// Queue is a host submission queue.
type Queue struct {
	dev   *Device
	label string

	// counts.Writes is the number of submissions, counts.Reads the number
	// completed. Workers advance reads concurrently with Submit.
	counts *atomicring.Ring

	wg        sync.WaitGroup
	destroyed atomic.Bool
}

var _ device.Queue = (*Queue)(nil)

func newQueue(d *Device, label string) *Queue {
	return &Queue{dev: d, label: label, counts: atomicring.New(0)}
}

// Label returns the queue label.
func (q *Queue) Label() string { return q.label }

// Submit copies the writes into their blocks and schedules the kernel.
// Kernels must be of type Func or nil.
func (q *Queue) Submit(w device.Work) (device.Submission, error) {
	if q.destroyed.Load() || q.dev.closed.Load() {
		return nil, errors.Wrapf(device.ErrClosed, "host: submit %q to %q", w.Label, q.label)
	}

	var fn Func
	switch k := w.Kernel.(type) {
	case nil:
	case Func:
		fn = k
	default:
		return nil, errors.Wrapf(device.ErrUnsupportedKernel, "host: %T", w.Kernel)
	}

	for i, wr := range w.Writes {
		if err := device.CheckWrite(wr); err != nil {
			return nil, errors.Wrapf(err, "host: %q write %d", w.Label, i)
		}
		dst := wr.Block.Bytes()
		if dst == nil {
			return nil, errors.Newf("host: %q write %d targets a block without host memory", w.Label, i)
		}
		copy(dst[wr.Offset:], wr.Data)
	}

	bindings := append([]device.Binding(nil), w.Bindings...)
	s := &Submission{label: w.Label, done: make(chan struct{})}
	s.seq = q.counts.AdvanceWrites(1)
	q.wg.Add(1)

	ok := q.dev.pool.Go(func() {
		s.err = runKernel(fn, bindings)
		q.complete(s)
	})
	if !ok {
		s.err = errors.Wrapf(device.ErrClosed, "host: submit %q", w.Label)
		q.complete(s)
		return nil, s.err
	}
	return s, nil
}

func (q *Queue) complete(s *Submission) {
	q.counts.AdvanceReads(1)
	close(s.done)
	q.wg.Done()
}

func runKernel(fn Func, bindings []device.Binding) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("host: kernel panicked: %v", r)
		}
	}()
	return fn(bindings)
}

// Outstanding returns the number of submissions not yet completed.
func (q *Queue) Outstanding() uint32 { return q.counts.Outstanding() }

// Submitted returns the number of submissions made, modulo 2^32.
func (q *Queue) Submitted() uint32 { return q.counts.Writes() }

// Completed returns the number of submissions completed, modulo 2^32.
func (q *Queue) Completed() uint32 { return q.counts.Reads() }

// Destroy waits for outstanding submissions and rejects further ones.
func (q *Queue) Destroy() {
	if !q.destroyed.CompareAndSwap(false, true) {
		return
	}
	q.wg.Wait()
	q.dev.mu.Lock()
	q.dev.queues--
	q.dev.mu.Unlock()
}

// Submission is a host submission.
type Submission struct {
	label string
	seq   uint32
	done  chan struct{}
	err   error
}

var _ device.Submission = (*Submission)(nil)

// Seq returns the submission's position in its queue, modulo 2^32.
func (s *Submission) Seq() uint32 { return s.seq }

// Done reports whether the kernel has returned.
func (s *Submission) Done() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the kernel has returned and returns its error.
func (s *Submission) Wait() error {
	<-s.done
	return s.err
}
