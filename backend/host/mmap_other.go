// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package host

func mapArena(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func unmapArena([]byte) error { return nil }
