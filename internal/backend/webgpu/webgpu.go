//go:build windows

// Package webgpu implements the devec driver contract on top of WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// WebGPU exposes a single logical device with one hardware queue, so every
// devec queue created here serializes onto the same underlying wgpu queue.
// Ordering within a queue therefore holds trivially; completion is observed
// by mapping a staging buffer, which blocks until preceding submissions have
// drained.
package webgpu

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/devec-ml/devec/device"
)

func init() {
	device.Register("webgpu", func(config string) (device.Platform, error) {
		return New(config)
	})
}

// WebGPU guarantees these limits on every conforming adapter; the API does
// not report compute unit counts or total memory, so the device Info carries
// conservative values.
const (
	maxWorkgroupSize    = 256
	assumedComputeUnits = 16
	guaranteedMemory    = 256 << 20
)

// Platform is a WebGPU driver instance. The config string selects the power
// preference: empty or "high-performance" asks for the discrete GPU,
// "low-power" for the integrated one.
type Platform struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	gpu      *wgpu.Device
	wq       *wgpu.Queue

	ctx  *Context
	pool *stagingPool

	// syncSrc feeds the copy used to fence the queue in Finish.
	syncSrc *wgpu.Buffer

	mu        sync.Mutex
	finalized bool
}

// New opens the adapter and device. Returns an error when the wgpu native
// library or a compatible GPU is missing.
func New(config string) (p *Platform, err error) {
	// The bindings panic when wgpu_native cannot be loaded.
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = device.Errorf("webgpu.New", device.Unsupported, "native library not available: %v", r)
		}
	}()

	power := wgpu.PowerPreferenceHighPerformance
	switch config {
	case "", "high-performance":
	case "low-power":
		power = wgpu.PowerPreferenceLowPower
	default:
		return nil, device.Errorf("webgpu.New", device.InvalidValue, "unknown config %q", config)
	}

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: power,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, device.Errorf("webgpu.New", device.Unsupported, "no adapter: %v", adapterErr)
	}
	name := adapterName(adapter.GetInfo())

	gpu, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, device.Errorf("webgpu.New", device.Unsupported, "no device: %v", deviceErr)
	}
	queue := gpu.GetQueue()
	if queue == nil {
		gpu.Release()
		adapter.Release()
		instance.Release()
		return nil, device.Errorf("webgpu.New", device.InvalidQueue, "device has no queue")
	}

	p = &Platform{
		instance: instance,
		adapter:  adapter,
		gpu:      gpu,
		wq:       queue,
		pool:     newStagingPool(gpu),
		syncSrc: createBuffer(gpu, &wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageCopySrc,
			Size:  4,
		}),
	}
	p.ctx = &Context{
		platform: p,
		id:       device.NextContextID(),
	}
	p.ctx.devices = []device.Device{&Device{
		platform: p,
		ctx:      p.ctx,
		info: device.Info{
			Name:             name,
			Class:            device.ClassGPU,
			MaxWorkgroupSize: maxWorkgroupSize,
			ComputeUnits:     assumedComputeUnits,
			GlobalMemory:     guaranteedMemory,
		},
	}}
	return p, nil
}

// adapterName formats the device name from the adapter info. GetInfo can
// fail and hand back a zero value, so an unnamed adapter gets a placeholder
// instead of an empty name.
func adapterName(info wgpu.AdapterInfo) string {
	if info.Name == "" {
		return "unknown adapter"
	}
	return fmt.Sprintf("%s %s", info.Name, info.VendorName)
}

func (p *Platform) Name() string        { return "webgpu" }
func (p *Platform) Description() string { return "WebGPU compute via go-webgpu" }

func (p *Platform) Devices() ([]device.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return nil, device.Errorf("webgpu.Devices", device.InvalidContext, "platform finalized")
	}
	return p.ctx.devices, nil
}

// Finalize drains the hardware queue and releases every wgpu object the
// platform owns. Buffers and programs handed out earlier must be released by
// their owners first.
func (p *Platform) Finalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return
	}
	p.finalized = true

	p.pool.clear()
	p.syncSrc.Release()
	p.wq.Release()
	p.gpu.Release()
	p.adapter.Release()
	p.instance.Release()
}

// submit sends one command buffer to the hardware queue.
func (p *Platform) submit(cmd *wgpu.CommandBuffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return device.Errorf("webgpu.submit", device.InvalidQueue, "platform finalized")
	}
	p.wq.Submit(cmd)
	return nil
}

// IsAvailable reports whether a WebGPU adapter can be opened on this system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Device is the single GPU the adapter exposes.
type Device struct {
	platform *Platform
	ctx      *Context
	info     device.Info
}

func (d *Device) Info() device.Info       { return d.info }
func (d *Device) Context() device.Context { return d.ctx }

func (d *Device) NewQueue() (device.Queue, error) {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	if d.platform.finalized {
		return nil, device.Errorf("webgpu.NewQueue", device.InvalidContext, "platform finalized")
	}
	return &Queue{dev: d}, nil
}

func (d *Device) NewBuffer(size uint64, flags device.MemFlags) (device.Buffer, error) {
	if size == 0 {
		return nil, device.Errorf("webgpu.NewBuffer", device.InvalidBufferSize, "zero-sized buffer")
	}
	if size > d.info.GlobalMemory {
		return nil, device.Errorf("webgpu.NewBuffer", device.OutOfResources,
			"%d bytes exceeds device memory", size)
	}
	buf := createBuffer(d.platform.gpu, &wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	return &Buffer{buf: buf, size: size, flags: flags}, nil
}

// Context wraps the adapter's device; there is exactly one per platform.
type Context struct {
	platform *Platform
	id       uint64
	devices  []device.Device
}

func (c *Context) ID() uint64               { return c.id }
func (c *Context) Devices() []device.Device { return c.devices }

// BuildProgram compiles WGSL source into a shader module. WGSL has no 64-bit
// float type, so sources mentioning f64 are rejected up front with a build
// log instead of a driver crash.
func (c *Context) BuildProgram(source string) (prog device.Program, err error) {
	if strings.Contains(source, "f64") {
		return nil, &device.BuildError{
			Log:    "webgpu: f64 is not a WGSL type; use float32 or float16 vectors on this driver",
			Source: source,
		}
	}
	defer func() {
		if r := recover(); r != nil {
			prog = nil
			err = &device.BuildError{
				Log:    fmt.Sprintf("webgpu: shader compilation failed: %v", r),
				Source: source,
			}
		}
	}()
	shader := c.platform.gpu.CreateShaderModuleWGSL(source)
	return &Program{
		platform:  c.platform,
		shader:    shader,
		source:    source,
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}, nil
}

// Program is a compiled shader module plus the pipelines resolved from it.
type Program struct {
	platform *Platform
	shader   *wgpu.ShaderModule
	source   string

	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
}

// Kernel resolves an entry point into a compute pipeline. Pipelines are
// created once per name and kept until Release.
func (p *Program) Kernel(name string) (k device.Kernel, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pipeline, ok := p.pipelines[name]; ok {
		return &Kernel{name: name, pipeline: pipeline, program: p}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			k = nil
			err = device.Errorf("webgpu.Kernel", device.BuildFailure,
				"pipeline for %q: %v", name, r)
		}
	}()
	pipeline := p.platform.gpu.CreateComputePipelineSimple(nil, p.shader, name)
	p.pipelines[name] = pipeline
	return &Kernel{name: name, pipeline: pipeline, program: p}, nil
}

func (p *Program) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pl := range p.pipelines {
		pl.Release()
	}
	p.pipelines = nil
	if p.shader != nil {
		p.shader.Release()
		p.shader = nil
	}
}

// Kernel is one resolved compute pipeline.
type Kernel struct {
	name     string
	pipeline *wgpu.ComputePipeline
	program  *Program
}

func (k *Kernel) Name() string { return k.name }

// Buffer is a storage buffer on the GPU.
type Buffer struct {
	buf   *wgpu.Buffer
	size  uint64
	flags device.MemFlags
}

func (b *Buffer) Size() uint64           { return b.size }
func (b *Buffer) Flags() device.MemFlags { return b.flags }

func (b *Buffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

func createBuffer(gpu *wgpu.Device, desc *wgpu.BufferDescriptor) *wgpu.Buffer {
	return gpu.CreateBuffer(desc)
}

// createUploadBuffer allocates a mapped-at-creation staging buffer holding
// data, ready to feed a buffer-to-buffer copy.
func createUploadBuffer(gpu *wgpu.Device, data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	buf := gpu.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buf.GetMappedRange(0, size)), size)
	copy(mapped, data)
	buf.Unmap()
	return buf
}
