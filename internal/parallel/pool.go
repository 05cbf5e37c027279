// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package parallel provides the worker pool that executes host kernels.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool runs tasks on a fixed set of worker goroutines.
//
// Each worker owns a buffered queue. Go places a task on the shortest queue of
// an idle worker; a worker that finishes a task steals from the others before
// blocking, so one slow kernel does not hold up the tasks queued behind it. Tasks therefore complete in no
// particular order.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	busy    []atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// mu orders Go against Close so that no task is queued after the
	// workers have drained their queues.
	mu sync.RWMutex
}

// NewPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		busy:    make([]atomic.Bool, workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case task := <-own:
			p.run(id, task)
			continue
		default:
		}

		if task := p.steal(id); task != nil {
			p.run(id, task)
			continue
		}

		select {
		case <-p.done:
			p.drain(own)
			return
		case task := <-own:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task func()) {
	p.busy[id].Store(true)
	defer p.busy[id].Store(false)
	task()
}

func (p *Pool) drain(q chan func()) {
	for {
		select {
		case task := <-q:
			task()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case task := <-p.queues[i]:
			return task
		default:
		}
	}
	return nil
}

// Go queues fn for execution and reports whether it was accepted.
// It blocks while every worker queue is full. After Close it returns false.
func (p *Pool) Go(fn func()) bool {
	if fn == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running.Load() {
		return false
	}

	// Shortest queue, preferring workers that are not running a task.
	best, bestIdle := 0, !p.busy[0].Load()
	for i := 1; i < p.workers; i++ {
		idle := !p.busy[i].Load()
		switch {
		case idle && !bestIdle:
			best, bestIdle = i, true
		case idle == bestIdle && len(p.queues[i]) < len(p.queues[best]):
			best = i
		}
	}
	p.queues[best] <- fn
	return true
}

// Close stops accepting tasks, runs everything already queued, and waits for
// the workers to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.mu.Unlock()
		return
	}
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Running reports whether the pool accepts tasks.
func (p *Pool) Running() bool { return p.running.Load() }

// Pending returns an approximate count of queued, not yet started tasks.
func (p *Pool) Pending() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}
