// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package host

import (
	"golang.org/x/sys/unix"
)

// mapArena returns size bytes of zeroed anonymous memory outside the Go heap.
func mapArena(size int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func unmapArena(data []byte) error {
	return unix.Munmap(data)
}
