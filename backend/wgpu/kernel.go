// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpurt/device"
	"github.com/gogpu/gpurt/internal/rtlog"
)

// ComputeKernel is a WGSL compute shader dispatch.
//
// The shader declares its buffers as @group(0) @binding(i), matching
// Work.Bindings[i]. ReadOnly bindings must be declared var<storage, read>,
// the others var<storage, read_write>.
type ComputeKernel struct {
	// Label names the kernel in logs and GPU debug tools.
	Label string

	// WGSL is the shader source.
	WGSL string

	// EntryPoint is the compute entry point; "main" if empty.
	EntryPoint string

	// Workgroups is the dispatch size; zero dimensions count as 1.
	Workgroups [3]uint32
}

func (k *ComputeKernel) entryPoint() string {
	if k.EntryPoint == "" {
		return "main"
	}
	return k.EntryPoint
}

func (k *ComputeKernel) groups() (x, y, z uint32) {
	return max(k.Workgroups[0], 1), max(k.Workgroups[1], 1), max(k.Workgroups[2], 1)
}

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(src string) ([]uint32, error) {
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, errors.Wrap(err, "wgpu: compile shader")
	}
	if len(spirv)%4 != 0 {
		return nil, errors.Newf("wgpu: SPIR-V length %d is not a multiple of 4", len(spirv))
	}
	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = uint32(spirv[i*4]) |
			uint32(spirv[i*4+1])<<8 |
			uint32(spirv[i*4+2])<<16 |
			uint32(spirv[i*4+3])<<24
	}
	return words, nil
}

// pipeline is one compiled kernel for one binding layout.
type pipeline struct {
	module   hal.ShaderModule
	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

type pipelineKey struct {
	wgsl     string
	entry    string
	bindings string // one byte per binding: 'r' read-only, 'w' read-write
}

// pipelineCache compiles each (shader, entry point, binding layout) once.
type pipelineCache struct {
	dev hal.Device

	mu    sync.Mutex
	cache map[pipelineKey]*pipeline
}

func newPipelineCache(dev hal.Device) *pipelineCache {
	return &pipelineCache{dev: dev, cache: make(map[pipelineKey]*pipeline)}
}

func layoutKey(bindings []device.Binding) string {
	var sb strings.Builder
	for _, b := range bindings {
		if b.Flags == device.ReadOnly {
			sb.WriteByte('r')
		} else {
			sb.WriteByte('w')
		}
	}
	return sb.String()
}

func (c *pipelineCache) get(k *ComputeKernel, bindings []device.Binding) (*pipeline, error) {
	key := pipelineKey{wgsl: k.WGSL, entry: k.entryPoint(), bindings: layoutKey(bindings)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.cache[key]; ok {
		return p, nil
	}
	p, err := c.build(k, key)
	if err != nil {
		return nil, err
	}
	c.cache[key] = p
	rtlog.Logger().Debug("wgpu: compiled kernel", "kernel", k.Label, "entry", key.entry, "bindings", key.bindings)
	return p, nil
}

func (c *pipelineCache) build(k *ComputeKernel, key pipelineKey) (*pipeline, error) {
	spirv, err := CompileWGSL(k.WGSL)
	if err != nil {
		return nil, errors.Wrapf(err, "kernel %q", k.Label)
	}

	p := &pipeline{}
	p.module, err = c.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  k.Label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "kernel %q: create shader module", k.Label)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(key.bindings))
	for i := range key.bindings {
		typ := gputypes.BufferBindingTypeStorage
		if key.bindings[i] == 'r' {
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // G115: binding count is small
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	p.bgLayout, err = c.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.Label,
		Entries: entries,
	})
	if err != nil {
		p.destroy(c.dev)
		return nil, errors.Wrapf(err, "kernel %q: create bind group layout", k.Label)
	}

	p.layout, err = c.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.Label,
		BindGroupLayouts: []hal.BindGroupLayout{p.bgLayout},
	})
	if err != nil {
		p.destroy(c.dev)
		return nil, errors.Wrapf(err, "kernel %q: create pipeline layout", k.Label)
	}

	p.pipeline, err = c.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  k.Label,
		Layout: p.layout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: key.entry,
		},
	})
	if err != nil {
		p.destroy(c.dev)
		return nil, errors.Wrapf(err, "kernel %q: create compute pipeline", k.Label)
	}
	return p, nil
}

// Len returns the number of cached pipelines.
func (c *pipelineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *pipelineCache) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.cache {
		p.destroy(c.dev)
		delete(c.cache, key)
	}
}

func (p *pipeline) destroy(dev hal.Device) {
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
	}
	if p.layout != nil {
		dev.DestroyPipelineLayout(p.layout)
	}
	if p.bgLayout != nil {
		dev.DestroyBindGroupLayout(p.bgLayout)
	}
	if p.module != nil {
		dev.DestroyShaderModule(p.module)
	}
}
