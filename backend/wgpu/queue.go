// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
)

// waitTimeout is how long Submission.Wait polls before logging a warning.
const waitTimeout = 5 * time.Second

// Polling backoff of Submission.Wait.
const (
	minPollInterval = 20 * time.Microsecond
	maxPollInterval = time.Millisecond
)

// Queue is a submission stream on the device's HAL queue.
// It is not safe for concurrent use.
type Queue struct {
	dev   *Device
	label string
	last  uint64 // HAL submission index of the newest submission

	destroyed bool
}

var _ device.Queue = (*Queue)(nil)

// Label returns the queue label.
func (q *Queue) Label() string { return q.label }

// Submit uploads the work's writes, records the kernel dispatch, and submits
// it to the HAL queue. Kernels must be ComputeKernel values or nil.
func (q *Queue) Submit(w device.Work) (device.Submission, error) {
	if q.destroyed || q.dev.closed.Load() {
		return nil, errors.Wrapf(device.ErrClosed, "wgpu: submit %q to %q", w.Label, q.label)
	}

	var kernel *ComputeKernel
	switch k := w.Kernel.(type) {
	case nil:
	case ComputeKernel:
		kernel = &k
	case *ComputeKernel:
		kernel = k
	default:
		return nil, errors.Wrapf(device.ErrUnsupportedKernel, "wgpu: %T", w.Kernel)
	}

	if err := q.upload(w); err != nil {
		return nil, err
	}

	s := &Submission{q: q}
	var cmds []hal.CommandBuffer
	if kernel != nil {
		if err := q.encode(s, w, kernel); err != nil {
			s.release()
			return nil, err
		}
		cmds = []hal.CommandBuffer{s.cmd}
	}

	index, err := q.dev.queue.Submit(cmds)
	if err != nil {
		s.release()
		return nil, errors.Wrapf(err, "wgpu: submit %q", w.Label)
	}
	s.index = index
	q.last = index

	rtlog.Logger().Debug("wgpu: submitted", "queue", q.label, "work", w.Label, "index", index)
	return s, nil
}

func (q *Queue) upload(w device.Work) error {
	for i, wr := range w.Writes {
		if err := device.CheckWrite(wr); err != nil {
			return errors.Wrapf(err, "wgpu: %q write %d", w.Label, i)
		}
		b, ok := wr.Block.(*Block)
		if !ok {
			return errors.Newf("wgpu: %q write %d targets foreign block %T", w.Label, i, wr.Block)
		}
		if b.host != nil {
			copy(b.host[wr.Offset:], wr.Data)
			continue
		}
		if len(wr.Data) == 0 {
			continue
		}
		data := wr.Data
		if pad := alignUp(uint64(len(data)), copyAlign) - uint64(len(data)); pad > 0 {
			if wr.Offset+uint64(len(data))+pad > b.size {
				return errors.Newf("wgpu: %q write %d: unaligned tail past block end", w.Label, i)
			}
			data = append(append(make([]byte, 0, len(data)+int(pad)), data...), make([]byte, pad)...)
		}
		q.dev.queue.WriteBuffer(b.buf, wr.Offset, data)
	}
	return nil
}

func (q *Queue) encode(s *Submission, w device.Work, k *ComputeKernel) error {
	p, err := q.dev.pipelines.get(k, w.Bindings)
	if err != nil {
		return errors.Wrapf(err, "wgpu: %q", w.Label)
	}

	entries := make([]gputypes.BindGroupEntry, len(w.Bindings))
	for i, bnd := range w.Bindings {
		b, ok := bnd.Block.(*Block)
		if !ok || b.buf == nil {
			return errors.Newf("wgpu: %q binding %d is not a device block", w.Label, i)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding: uint32(i), //nolint:gosec // G115: binding count is small
			Resource: gputypes.BufferBinding{
				Buffer: b.buf.NativeHandle(),
				Offset: bnd.Offset,
				Size:   bnd.Size,
			},
		}
	}

	var bg hal.BindGroup
	if len(entries) > 0 {
		bg, err = q.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   w.Label,
			Layout:  p.bgLayout,
			Entries: entries,
		})
		if err != nil {
			return errors.Wrapf(err, "wgpu: %q: create bind group", w.Label)
		}
		s.bindGroup = bg
	}

	encoder, err := q.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: w.Label})
	if err != nil {
		return errors.Wrapf(err, "wgpu: %q: create command encoder", w.Label)
	}
	if err := encoder.BeginEncoding(w.Label); err != nil {
		encoder.DiscardEncoding()
		return errors.Wrapf(err, "wgpu: %q: begin encoding", w.Label)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: w.Label})
	pass.SetPipeline(p.pipeline)
	if bg != nil {
		pass.SetBindGroup(0, bg, nil)
	}
	x, y, z := k.groups()
	pass.Dispatch(x, y, z)
	pass.End()

	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return errors.Wrapf(err, "wgpu: %q: end encoding", w.Label)
	}
	s.cmd = cmd
	return nil
}

// Completed returns the highest submission index the GPU has finished,
// across every queue of the device.
func (q *Queue) Completed() uint64 { return q.dev.completed() }

// Submitted returns the HAL submission index of the newest submission.
func (q *Queue) Submitted() uint64 { return q.last }

// Idle reports whether every submission of the queue has completed.
func (q *Queue) Idle() bool { return q.dev.completed() >= q.last }

// Destroy waits for the queue's submissions and rejects further ones.
func (q *Queue) Destroy() {
	if q.destroyed {
		return
	}
	q.destroyed = true
	if !waitIndex(q.dev, q.last, waitTimeout) {
		rtlog.Logger().Warn("wgpu: queue destroyed with work in flight", "queue", q.label, "index", q.last)
	}
	q.dev.mu.Lock()
	q.dev.queues--
	q.dev.mu.Unlock()
}

// waitIndex polls until index has completed or timeout passes.
func waitIndex(d *Device, index uint64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	interval := minPollInterval
	for d.completed() < index {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
		interval = min(interval*2, maxPollInterval)
	}
	return true
}

// Submission is one HAL submission.
type Submission struct {
	q         *Queue
	index     uint64
	cmd       hal.CommandBuffer
	bindGroup hal.BindGroup

	done bool
	err  error
}

var _ device.Submission = (*Submission)(nil)

// Index returns the HAL submission index.
func (s *Submission) Index() uint64 { return s.index }

// Done polls for completion without blocking. Per-submission resources are
// released the first time it reports completion.
func (s *Submission) Done() bool {
	if s.done {
		return true
	}
	if s.q.dev.completed() < s.index {
		return false
	}
	s.finish()
	return true
}

// Wait blocks until the submission has completed.
func (s *Submission) Wait() error {
	for !s.done {
		if waitIndex(s.q.dev, s.index, waitTimeout) {
			s.finish()
			break
		}
		rtlog.Logger().Warn("wgpu: submission still in flight, waiting",
			"queue", s.q.label, "index", s.index, "completed", s.q.dev.completed(), "waited", waitTimeout)
	}
	return s.err
}

func (s *Submission) finish() {
	s.done = true
	s.release()
}

func (s *Submission) release() {
	dev := s.q.dev.device
	if s.cmd != nil {
		dev.FreeCommandBuffer(s.cmd)
		s.cmd = nil
	}
	if s.bindGroup != nil {
		dev.DestroyBindGroup(s.bindGroup)
		s.bindGroup = nil
	}
}
