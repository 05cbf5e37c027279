// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{WGPU, Host}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in selection order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for _, name := range backendPriority {
		if _, ok := backends[name]; ok {
			names = append(names, name)
		}
	}
	var rest []string
	for name := range backends {
		if !slices.Contains(backendPriority, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get opens a device from the named backend.
func Get(name string) (device.Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
	}
	d, err := factory()
	if err != nil {
		return nil, errors.Wrapf(err, "backend: open %s", name)
	}
	return d, nil
}

// Default opens a device from the best available backend.
// Priority order: wgpu > host > others by name.
// Backends whose factory fails are skipped.
func Default() (device.Device, error) {
	var errs error
	for _, name := range Available() {
		d, err := Get(name)
		if err == nil {
			rtlog.Logger().Info("backend: selected", "backend", name, "device", d.Name())
			return d, nil
		}
		rtlog.Logger().Warn("backend: unavailable", "backend", name, "error", err)
		errs = errors.CombineErrors(errs, err)
	}
	if errs != nil {
		return nil, errors.Mark(errs, ErrBackendNotAvailable)
	}
	return nil, ErrBackendNotAvailable
}

// Open opens the named backend, or the default one when name is empty.
func Open(name string) (device.Device, error) {
	if name == "" {
		return Default()
	}
	return Get(name)
}

// MustDefault returns the default device or panics.
func MustDefault() device.Device {
	d, err := Default()
	if err != nil {
		panic(err)
	}
	return d
}
