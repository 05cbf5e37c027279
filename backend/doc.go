// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend selects the compute device the runtime runs on.
//
// Backends register a Factory under a name, usually from init():
//
//	import _ "github.com/gogpu/gpurt/backend/host"
//
// The wgpu backend needs a device provider and registers explicitly:
//
//	gpuwgpu.Register(provider)
//
// # Selection
//
// Use Default to open the best available device, or Get to request a
// backend by name:
//
//	dev, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	// Or request a specific backend
//	dev, err = backend.Get(backend.Host)
//
// Default tries backends in priority order (wgpu, then host) and skips any
// whose factory fails, so a machine without a usable GPU falls back to the
// host backend.
package backend
