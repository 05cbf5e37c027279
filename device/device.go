// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device defines the contract between the runtime and a compute
// device driver.
//
// A Device hands out memory blocks and submission queues. Work submitted to a
// Queue completes asynchronously and possibly out of order; the caller probes
// completion through the returned Submission. Backends live under backend/.
package device

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Errors shared by all backends.
var (
	// ErrUnsupportedKernel is returned by Queue.Submit when the Work carries
	// a kernel type the backend cannot execute.
	ErrUnsupportedKernel = errors.New("device: unsupported kernel")

	// ErrClosed is returned when a device or queue is used after Close/Destroy.
	ErrClosed = errors.New("device: closed")

	// ErrOutOfRange is returned when a write does not fit its block.
	ErrOutOfRange = errors.New("device: write out of block range")
)

// MemFlags describes how the device accesses a block or binding.
type MemFlags uint8

const (
	// ReadWrite blocks are read and written by kernels.
	ReadWrite MemFlags = iota

	// WriteOnly blocks are only written by kernels.
	WriteOnly

	// ReadOnly blocks are only read by kernels.
	ReadOnly
)

// String returns the flag name.
func (f MemFlags) String() string {
	switch f {
	case ReadWrite:
		return "ReadWrite"
	case WriteOnly:
		return "WriteOnly"
	case ReadOnly:
		return "ReadOnly"
	default:
		return fmt.Sprintf("MemFlags(%d)", uint8(f))
	}
}

// DeviceReads reports whether kernels read blocks with these flags.
func (f MemFlags) DeviceReads() bool { return f != WriteOnly }

// DeviceWrites reports whether kernels write blocks with these flags.
func (f MemFlags) DeviceWrites() bool { return f != ReadOnly }

// Block is a contiguous region of device-accessible memory.
type Block interface {
	// Size returns the block size in bytes.
	Size() uint64

	// Flags returns the access flags the block was allocated with.
	Flags() MemFlags

	// Bytes returns the host mapping of the block, or nil when the block
	// is not host-visible.
	Bytes() []byte
}

// Device is a compute device.
type Device interface {
	// Name identifies the device for logs and stats.
	Name() string

	// CreateQueue creates a submission queue.
	CreateQueue(label string) (Queue, error)

	// AllocBlock allocates a device-local block of at least size bytes.
	// Its Bytes may be nil; the host fills it through Work.Writes.
	AllocBlock(flags MemFlags, size uint64) (Block, error)

	// AllocHostBlock allocates a host-visible block of at least size bytes.
	// Its Bytes is never nil.
	AllocHostBlock(size uint64) (Block, error)

	// FreeBlock releases a block returned by AllocBlock or AllocHostBlock.
	FreeBlock(b Block)

	// Close releases the device. Queues and blocks must be released first.
	Close() error
}

// Queue accepts work for asynchronous execution.
type Queue interface {
	// Label returns the label given to CreateQueue.
	Label() string

	// Submit uploads the work's writes and schedules its kernel.
	// Writes are visible to the kernel; the submission completes once the
	// kernel has finished.
	Submit(w Work) (Submission, error)

	// Destroy releases the queue. Outstanding submissions are waited for.
	Destroy()
}

// Submission tracks one submitted Work.
type Submission interface {
	// Done reports whether the work has completed. It never blocks.
	Done() bool

	// Wait blocks until the work has completed and returns its error.
	Wait() error
}

// Write copies Data into Block at Offset before the kernel runs.
type Write struct {
	Block  Block
	Offset uint64
	Data   []byte
}

// Binding exposes a range of a block to a kernel.
type Binding struct {
	Block  Block
	Offset uint64
	Size   uint64
	Flags  MemFlags
}

// Bytes returns the host view of the bound range, or nil when the block is
// not host-visible.
func (b Binding) Bytes() []byte {
	if b.Block == nil {
		return nil
	}
	m := b.Block.Bytes()
	if m == nil {
		return nil
	}
	end := b.Offset + b.Size
	return m[b.Offset:end:end]
}

// Kernel is a backend-specific unit of device work. Each backend documents
// the concrete kernel types it accepts.
type Kernel any

// Work is one submission: uploads followed by an optional kernel.
// Bindings are passed to the kernel in order; binding i is slot i.
type Work struct {
	Label    string
	Writes   []Write
	Kernel   Kernel
	Bindings []Binding
}

// CheckWrite validates that w fits its block.
func CheckWrite(w Write) error {
	if w.Block == nil {
		return errors.Wrap(ErrOutOfRange, "nil block")
	}
	end := w.Offset + uint64(len(w.Data))
	if end < w.Offset || end > w.Block.Size() {
		return errors.Wrapf(ErrOutOfRange, "[%d,%d) in block of %d bytes", w.Offset, end, w.Block.Size())
	}
	return nil
}
