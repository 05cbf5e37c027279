// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/device"
)

// Backend names, in default selection order.
const (
	// WGPU drives a GPU through gogpu/wgpu. It registers only when a
	// device provider is supplied, see backend/wgpu.Register.
	WGPU = "wgpu"

	// Host runs kernels on CPU worker goroutines. It registers on import.
	Host = "host"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when no registered backend could
	// open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned by Open for a name that is not registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)

// Factory opens a device. A factory may fail, for example when no adapter
// is present; Default then moves on to the next backend.
type Factory func() (device.Device, error)
