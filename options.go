// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpurt

import (
	"log/slog"

	"github.com/gogpu/gpurt/alloc"
	"github.com/gogpu/gpurt/cqpool"
)

// Defaults applied by New for zero-valued configuration.
const (
	DefaultHostArenaSize  = 1 << 20
	DefaultHostSubBuffers = 1024
	DefaultHostAlignment  = 16

	DefaultDeviceArenaSize  = 16 << 20
	DefaultDeviceSubBuffers = 256
	DefaultDeviceAlignment  = 256

	DefaultQueueCategory = "compute"
	DefaultQueueCount    = 4
)

// Config holds the runtime configuration. Zero fields take the defaults.
type Config struct {
	// Host sizes the host arena that backs snapshot metadata.
	Host alloc.Config

	// Device sizes the device arena that receives gathered snapshots.
	Device alloc.Config

	// QueueCategory labels the queues of the pool.
	QueueCategory string

	// Queues is the number of queues in the pool.
	Queues int

	// Policy decides what Submit does when every queue is outstanding.
	// The default, cqpool.Block, drains completed work until one frees up.
	Policy cqpool.Policy

	// Logger, if set, is installed with SetLogger by New.
	Logger *slog.Logger
}

// Option configures a Runtime during creation.
//
// Example:
//
//	rt, err := gpurt.New(dev,
//	    gpurt.WithDeviceArena(64<<20, 512, 256),
//	    gpurt.WithQueues("raster", 8, cqpool.Block),
//	)
type Option func(*Config)

// defaultConfig returns the configuration New starts from.
func defaultConfig() Config {
	return Config{
		Host: alloc.Config{
			Size:       DefaultHostArenaSize,
			SubBuffers: DefaultHostSubBuffers,
			Alignment:  DefaultHostAlignment,
		},
		Device: alloc.Config{
			Size:       DefaultDeviceArenaSize,
			SubBuffers: DefaultDeviceSubBuffers,
			Alignment:  DefaultDeviceAlignment,
		},
		QueueCategory: DefaultQueueCategory,
		Queues:        DefaultQueueCount,
		Policy:        cqpool.Block,
	}
}

// WithHostArena sizes the host arena. Zero arguments keep their defaults.
func WithHostArena(size uint64, subBuffers int, alignment uint32) Option {
	return func(c *Config) {
		mergeArena(&c.Host, size, subBuffers, alignment)
	}
}

// WithDeviceArena sizes the device arena. Zero arguments keep their defaults.
func WithDeviceArena(size uint64, subBuffers int, alignment uint32) Option {
	return func(c *Config) {
		mergeArena(&c.Device, size, subBuffers, alignment)
	}
}

// WithQueues configures the queue pool. An empty category or a zero count
// keeps the default.
func WithQueues(category string, count int, policy cqpool.Policy) Option {
	return func(c *Config) {
		if category != "" {
			c.QueueCategory = category
		}
		if count > 0 {
			c.Queues = count
		}
		c.Policy = policy
	}
}

// WithLogger installs l as the package logger when the runtime is created.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func mergeArena(dst *alloc.Config, size uint64, subBuffers int, alignment uint32) {
	if size > 0 {
		dst.Size = size
	}
	if subBuffers > 0 {
		dst.SubBuffers = subBuffers
	}
	if alignment > 0 {
		dst.Alignment = alignment
	}
}
