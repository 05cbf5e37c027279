// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cqpool keeps a small ring of reusable device queues.
//
// Queues are handed out round-robin. A queue is back in rotation only once it
// and every queue acquired before it have been released, so completions that
// arrive out of order never let a queue be reused ahead of older work.
//
// A Pool is not safe for concurrent use.
package cqpool

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
	"github.com/gogpu/gpurt/suballoc"
)

var (
	// ErrExhausted is returned by Acquire under the Reject policy when every
	// queue is outstanding.
	ErrExhausted = errors.New("cqpool: all queues outstanding")

	// ErrStalled is raised under the Block policy when every queue is
	// outstanding and the pump reports nothing left to drain.
	ErrStalled = errors.New("cqpool: acquire stalled, pump made no progress")

	// ErrInvariantViolation is raised when a queue that is not outstanding
	// is released.
	ErrInvariantViolation = errors.New("cqpool: invariant violation")

	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("cqpool: closed")
)

// Policy decides what Acquire does when every queue is outstanding.
type Policy int

const (
	// Reject makes Acquire return ErrExhausted.
	Reject Policy = iota

	// Block makes Acquire drain the pump until a queue is released.
	Block
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Reject:
		return "reject"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	policy Policy
	pump   suballoc.Pump
}

// WithPolicy sets the exhaustion policy. The default is Reject.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithPump sets the pump drained by Acquire under the Block policy.
func WithPump(p suballoc.Pump) Option {
	return func(o *options) {
		o.pump = p
	}
}

// Pool is a fixed ring of device queues.
type Pool struct {
	category string
	queues   []device.Queue
	released []bool
	slot     map[device.Queue]int

	// Outstanding acquisitions occupy slots head, head+1, ... head+count-1
	// modulo the capacity, oldest first.
	head  int
	count int

	policy Policy
	pump   suballoc.Pump
	closed bool
}

// New creates capacity queues on dev, labelled after category.
// If creating any queue fails, the ones already created are destroyed.
func New(dev device.Device, category string, capacity int, opts ...Option) (*Pool, error) {
	if capacity <= 0 {
		return nil, errors.Newf("cqpool: %s: capacity %d", category, capacity)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool{
		category: category,
		queues:   make([]device.Queue, 0, capacity),
		released: make([]bool, capacity),
		slot:     make(map[device.Queue]int, capacity),
		policy:   o.policy,
		pump:     o.pump,
	}
	for i := range capacity {
		q, err := dev.CreateQueue(fmt.Sprintf("%s/%d", category, i))
		if err != nil {
			p.destroyAll()
			return nil, errors.Wrapf(err, "cqpool: %s: create queue %d", category, i)
		}
		p.slot[q] = i
		p.queues = append(p.queues, q)
	}
	return p, nil
}

// Category returns the label the pool was created with.
func (p *Pool) Category() string { return p.category }

// Capacity returns the number of queues in the pool.
func (p *Pool) Capacity() int { return len(p.queues) }

// Outstanding returns the number of queues acquired and not yet returned to
// rotation.
func (p *Pool) Outstanding() int { return p.count }

// Policy returns the exhaustion policy.
func (p *Pool) Policy() Policy { return p.policy }

// Acquire returns the next queue in rotation.
func (p *Pool) Acquire() (device.Queue, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.full() {
		if err := p.waitForRelease(); err != nil {
			return nil, err
		}
	}
	q := p.queues[(p.head+p.count)%len(p.queues)]
	p.count++
	return q, nil
}

func (p *Pool) full() bool { return p.count == len(p.queues) }

func (p *Pool) waitForRelease() error {
	if p.policy == Reject {
		rtlog.Logger().Warn("cqpool: exhausted", "category", p.category, "capacity", len(p.queues))
		return errors.Wrapf(ErrExhausted, "%s: %d queues", p.category, len(p.queues))
	}
	for p.full() {
		if p.pump == nil || !p.pump.DrainOnce() {
			if p.full() {
				panic(fmt.Errorf("%w: %s: %d queues outstanding", ErrStalled, p.category, len(p.queues)))
			}
		}
	}
	return nil
}

// Release returns q. Releases may arrive in any order; q goes back into
// rotation once every queue acquired before it has been released too.
//
// Releasing a queue that is not outstanding panics with
// ErrInvariantViolation.
func (p *Pool) Release(q device.Queue) {
	n := len(p.queues)
	i, ok := p.slot[q]
	if !ok {
		panic(errors.WithAssertionFailure(errors.Wrapf(ErrInvariantViolation,
			"%s: release of foreign queue %q", p.category, labelOf(q))))
	}
	if (i-p.head+n)%n >= p.count || p.released[i] {
		panic(errors.WithAssertionFailure(errors.Wrapf(ErrInvariantViolation,
			"%s: release of queue %q that is not outstanding", p.category, labelOf(q))))
	}
	p.released[i] = true

	for p.count > 0 && p.released[p.head] {
		p.released[p.head] = false
		p.head = (p.head + 1) % n
		p.count--
	}
}

func labelOf(q device.Queue) string {
	if q == nil {
		return "<nil>"
	}
	return q.Label()
}

// Close destroys every queue. Outstanding queues are destroyed too, which
// waits for their work.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	if n := p.Outstanding(); n > 0 {
		rtlog.Logger().Warn("cqpool: closing with outstanding queues", "category", p.category, "outstanding", n)
	}
	p.destroyAll()
}

func (p *Pool) destroyAll() {
	for _, q := range p.queues {
		q.Destroy()
	}
}
