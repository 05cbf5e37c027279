// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import "github.com/gogpu/gpurt/device"

// Block is host memory shared with host kernels. Every host block is
// host-visible.
type Block struct {
	data   []byte
	flags  device.MemFlags
	mapped bool // data came from mapArena and must be unmapped
}

// Size returns the block size in bytes.
func (b *Block) Size() uint64 { return uint64(len(b.data)) }

// Flags returns the access flags the block was allocated with.
func (b *Block) Flags() device.MemFlags { return b.flags }

// Bytes returns the block memory.
func (b *Block) Bytes() []byte { return b.data }

func newBlock(flags device.MemFlags, size uint64) (*Block, error) {
	if size == 0 {
		return &Block{data: []byte{}, flags: flags}, nil
	}
	data, mapped, err := mapArena(int(size)) //nolint:gosec // G115: size checked by caller
	if err != nil {
		return nil, err
	}
	return &Block{data: data, flags: flags, mapped: mapped}, nil
}

func (b *Block) release() error {
	data, mapped := b.data, b.mapped
	b.data, b.mapped = nil, false
	if !mapped {
		return nil
	}
	return unmapArena(data)
}
