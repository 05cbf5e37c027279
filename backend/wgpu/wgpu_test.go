// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpurt/device"
)

const doubleWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<u32, 64>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * 2u;
}
`

// createNoopDevice opens a device on the noop HAL.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()

	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	require.NoError(t, err)
	adapters := instance.EnumerateAdapters(nil)
	require.NotEmpty(t, adapters)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	require.NoError(t, err)

	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	hd, hq, cleanup := createNoopDevice(t)
	d, err := New(hd, hq)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close()
		cleanup()
	})
	return d
}

// skipIfNoCompile skips kernel tests when naga cannot compile the shader.
func skipIfNoCompile(t *testing.T, src string) {
	t.Helper()
	if _, err := CompileWGSL(src); err != nil {
		if strings.Contains(err.Error(), "not yet implemented") || strings.Contains(err.Error(), "not supported") {
			t.Skipf("naga limitation: %v", err)
		}
		t.Fatalf("compile: %v", err)
	}
}

func TestAllocBlock(t *testing.T) {
	d := newTestDevice(t)

	tests := []struct {
		name string
		size uint64
		want uint64
	}{
		{"zero", 0, 4},
		{"one", 1, 4},
		{"aligned", 64, 64},
		{"unaligned", 10, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := d.AllocBlock(device.ReadWrite, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Size())
			assert.Nil(t, b.Bytes())
			assert.NotNil(t, b.(*Block).Buffer())
			d.FreeBlock(b)
		})
	}
	assert.Zero(t, d.LiveBlocks())
}

func TestHostBlock(t *testing.T) {
	d := newTestDevice(t)

	b, err := d.AllocHostBlock(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), b.Size())
	require.Len(t, b.Bytes(), 10)
	assert.Nil(t, b.(*Block).Buffer())

	q, err := d.CreateQueue("upload")
	require.NoError(t, err)
	defer q.Destroy()

	sub, err := q.Submit(device.Work{
		Label:  "host write",
		Writes: []device.Write{{Block: b, Offset: 2, Data: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)
	require.NoError(t, sub.Wait())
	assert.Equal(t, []byte{0, 0, 1, 2, 3, 0, 0, 0, 0, 0}, b.Bytes())

	d.FreeBlock(b)
	assert.Zero(t, d.LiveBlocks())
}

func TestFreeUnknownBlock(t *testing.T) {
	d := newTestDevice(t)

	b, err := d.AllocBlock(device.ReadOnly, 16)
	require.NoError(t, err)
	d.FreeBlock(b)
	assert.NotPanics(t, func() { d.FreeBlock(b) })
	assert.Zero(t, d.LiveBlocks())
}

func TestSubmitWithoutKernel(t *testing.T) {
	d := newTestDevice(t)

	b, err := d.AllocBlock(device.ReadWrite, 16)
	require.NoError(t, err)
	defer d.FreeBlock(b)

	q, err := d.CreateQueue("copy")
	require.NoError(t, err)
	defer q.Destroy()
	wq := q.(*Queue)

	var last uint64
	for i := 0; i < 3; i++ {
		sub, err := q.Submit(device.Work{
			Label:  "upload",
			Writes: []device.Write{{Block: b, Offset: 4, Data: []byte{1, 2, 3}}},
		})
		require.NoError(t, err)
		index := sub.(*Submission).Index()
		if i > 0 {
			assert.Greater(t, index, last)
		}
		last = index
		assert.Equal(t, index, wq.Submitted())
		require.NoError(t, sub.Wait())
		assert.True(t, sub.Done())
		assert.GreaterOrEqual(t, wq.Completed(), index)
	}
	assert.True(t, wq.Idle())
}

func TestSubmitErrors(t *testing.T) {
	d := newTestDevice(t)

	b, err := d.AllocBlock(device.ReadWrite, 4)
	require.NoError(t, err)
	defer d.FreeBlock(b)
	host, err := d.AllocHostBlock(64)
	require.NoError(t, err)
	defer d.FreeBlock(host)

	q, err := d.CreateQueue("errors")
	require.NoError(t, err)
	defer q.Destroy()

	tests := []struct {
		name   string
		work   device.Work
		target error
	}{
		{
			name:   "unsupported kernel",
			work:   device.Work{Label: "bad", Kernel: func() {}},
			target: device.ErrUnsupportedKernel,
		},
		{
			name:   "write out of range",
			work:   device.Work{Writes: []device.Write{{Block: b, Offset: 2, Data: make([]byte, 8)}}},
			target: device.ErrOutOfRange,
		},
		{
			name: "unaligned tail past end",
			work: device.Work{Writes: []device.Write{{Block: b, Offset: 3, Data: []byte{9}}}},
		},
		{
			name: "binding to host block",
			work: device.Work{
				Kernel:   ComputeKernel{Label: "double", WGSL: doubleWGSL, Workgroups: [3]uint32{1}},
				Bindings: []device.Binding{{Block: host, Size: 64, Flags: device.ReadWrite}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.work.Kernel != nil && tt.target == nil {
				skipIfNoCompile(t, doubleWGSL)
			}
			sub, err := q.Submit(tt.work)
			require.Error(t, err)
			assert.Nil(t, sub)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}
	assert.Zero(t, q.(*Queue).Submitted())
}

func TestComputeKernel(t *testing.T) {
	skipIfNoCompile(t, doubleWGSL)
	d := newTestDevice(t)

	b, err := d.AllocBlock(device.ReadWrite, 256)
	require.NoError(t, err)
	defer d.FreeBlock(b)

	q, err := d.CreateQueue("compute")
	require.NoError(t, err)
	defer q.Destroy()

	k := &ComputeKernel{Label: "double", WGSL: doubleWGSL, Workgroups: [3]uint32{1}}
	submit := func(flags device.MemFlags) {
		t.Helper()
		sub, err := q.Submit(device.Work{
			Label:    "double",
			Writes:   []device.Write{{Block: b, Data: make([]byte, 256)}},
			Kernel:   k,
			Bindings: []device.Binding{{Block: b, Size: 256, Flags: flags}},
		})
		require.NoError(t, err)
		require.NoError(t, sub.Wait())
		s := sub.(*Submission)
		assert.Nil(t, s.cmd, "command buffer released after completion")
		assert.Nil(t, s.bindGroup, "bind group released after completion")
	}

	submit(device.ReadWrite)
	assert.Equal(t, 1, d.pipelines.Len())
	submit(device.ReadWrite)
	assert.Equal(t, 1, d.pipelines.Len(), "same kernel and layout reuses the pipeline")
	submit(device.WriteOnly)
	assert.Equal(t, 1, d.pipelines.Len(), "write-only binds as read-write storage")
	submit(device.ReadOnly)
	assert.Equal(t, 2, d.pipelines.Len())

	require.NoError(t, d.Close())
	assert.Zero(t, d.pipelines.Len())
}

// failingDevice hands out command encoders that fail to begin or end.
type failingDevice struct {
	hal.Device
	failBegin bool
	discarded int
}

func (d *failingDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &failingEncoder{CommandEncoder: enc, dev: d}, nil
}

func (d *failingDevice) PollCompleted() uint64 {
	if p, ok := d.Device.(completionPoller); ok {
		return p.PollCompleted()
	}
	return 0
}

type failingEncoder struct {
	hal.CommandEncoder
	dev   *failingDevice
	began bool
}

var errEncode = errors.New("encoder failure")

func (e *failingEncoder) BeginEncoding(label string) error {
	if e.dev.failBegin {
		return errEncode
	}
	e.began = true
	return e.CommandEncoder.BeginEncoding(label)
}

func (e *failingEncoder) EndEncoding() (hal.CommandBuffer, error) {
	return nil, errEncode
}

func (e *failingEncoder) DiscardEncoding() {
	e.dev.discarded++
	if e.began {
		e.CommandEncoder.DiscardEncoding()
	}
}

func TestEncodeFailureDiscardsEncoder(t *testing.T) {
	skipIfNoCompile(t, doubleWGSL)

	for _, failBegin := range []bool{true, false} {
		name := "end"
		if failBegin {
			name = "begin"
		}
		t.Run(name, func(t *testing.T) {
			hd, hq, cleanup := createNoopDevice(t)
			defer cleanup()
			fd := &failingDevice{Device: hd, failBegin: failBegin}
			d, err := New(fd, hq)
			require.NoError(t, err)
			defer func() { _ = d.Close() }()

			b, err := d.AllocBlock(device.ReadWrite, 256)
			require.NoError(t, err)
			defer d.FreeBlock(b)
			q, err := d.CreateQueue("encode")
			require.NoError(t, err)
			defer q.Destroy()

			sub, err := q.Submit(device.Work{
				Label:    "double",
				Kernel:   ComputeKernel{Label: "double", WGSL: doubleWGSL, Workgroups: [3]uint32{1}},
				Bindings: []device.Binding{{Block: b, Size: 256, Flags: device.ReadWrite}},
			})
			assert.Nil(t, sub)
			assert.True(t, errors.Is(err, errEncode), "got %v", err)
			assert.Equal(t, 1, fd.discarded)
			assert.Zero(t, q.(*Queue).Submitted())
		})
	}
}

func TestComputeKernelCompileError(t *testing.T) {
	d := newTestDevice(t)

	q, err := d.CreateQueue("compute")
	require.NoError(t, err)
	defer q.Destroy()

	_, err = q.Submit(device.Work{
		Label:  "broken",
		Kernel: ComputeKernel{Label: "broken", WGSL: "fn main( {"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Zero(t, d.pipelines.Len())
}

func TestComputeKernelGroups(t *testing.T) {
	tests := []struct {
		in      [3]uint32
		x, y, z uint32
	}{
		{[3]uint32{}, 1, 1, 1},
		{[3]uint32{8}, 8, 1, 1},
		{[3]uint32{4, 2, 0}, 4, 2, 1},
	}
	for _, tt := range tests {
		k := ComputeKernel{Workgroups: tt.in}
		x, y, z := k.groups()
		assert.Equal(t, [3]uint32{tt.x, tt.y, tt.z}, [3]uint32{x, y, z})
	}
	assert.Equal(t, "main", (&ComputeKernel{}).entryPoint())
	assert.Equal(t, "run", (&ComputeKernel{EntryPoint: "run"}).entryPoint())
}

func TestQueueDestroy(t *testing.T) {
	d := newTestDevice(t)

	q, err := d.CreateQueue("short")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Queues())

	_, err = q.Submit(device.Work{Label: "noop"})
	require.NoError(t, err)

	q.Destroy()
	q.Destroy()
	assert.Zero(t, d.Queues())

	_, err = q.Submit(device.Work{Label: "late"})
	assert.True(t, errors.Is(err, device.ErrClosed))
}

func TestDeviceClose(t *testing.T) {
	d := newTestDevice(t)

	_, err := d.AllocBlock(device.ReadWrite, 32)
	require.NoError(t, err)
	_, err = d.AllocHostBlock(32)
	require.NoError(t, err)
	assert.Equal(t, 2, d.LiveBlocks())

	require.NoError(t, d.Close())
	assert.Zero(t, d.LiveBlocks())
	require.NoError(t, d.Close())

	_, err = d.AllocBlock(device.ReadWrite, 32)
	assert.True(t, errors.Is(err, device.ErrClosed))
	_, err = d.CreateQueue("late")
	assert.True(t, errors.Is(err, device.ErrClosed))
}

func TestNewNilHandles(t *testing.T) {
	hd, hq, cleanup := createNoopDevice(t)
	defer cleanup()

	tests := []struct {
		name  string
		dev   hal.Device
		queue hal.Queue
	}{
		{"nil device", nil, hq},
		{"nil queue", hd, nil},
		{"both nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.dev, tt.queue)
			assert.Nil(t, d)
			assert.True(t, errors.Is(err, ErrNoHAL), "got %v", err)
		})
	}
}

// plainProvider is a DeviceProvider without HAL access. Its methods are never
// called.
type plainProvider struct{ gpucontext.DeviceProvider }

// halOnlyProvider exposes HAL handles of the wrong type.
type halOnlyProvider struct{ plainProvider }

func (halOnlyProvider) HalDevice() any { return "device" }
func (halOnlyProvider) HalQueue() any  { return nil }

func TestNewFromProvider(t *testing.T) {
	tests := []struct {
		name string
		p    gpucontext.DeviceProvider
	}{
		{"nil", nil},
		{"no hal", plainProvider{}},
		{"wrong hal types", halOnlyProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewFromProvider(tt.p)
			assert.Nil(t, d)
			assert.True(t, errors.Is(err, ErrNoHAL), "got %v", err)
		})
	}
}
