// Package sim implements the devec driver contract entirely in process. It
// exists so the full pipeline, from generated kernel source to asynchronous
// multi-queue dispatch, runs on any machine: buffers are host memory, every
// queue is a goroutine draining an in-order op channel, and BuildProgram
// compiles the WGSL a kernel generator emits into an evaluable form.
//
// Device capabilities are deterministic per class, so partition- and
// grid-sizing policies are reproducible in tests.
package sim

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/devec-ml/devec/device"
)

func init() {
	device.Register("sim", func(config string) (device.Platform, error) {
		return New(config)
	})
}

// Platform is a simulated driver instance. The config string is a
// comma-separated device roster of "gpu" and "cpu" entries; empty means
// "gpu,cpu". All devices share one context.
type Platform struct {
	devices []device.Device
	ctx     *Context

	mu        sync.Mutex
	queues    []*Queue
	finalized bool
}

// New builds a platform from a roster config.
func New(config string) (*Platform, error) {
	if config == "" {
		config = "gpu,cpu"
	}
	p := &Platform{}
	ctx := &Context{platform: p, id: device.NextContextID()}
	for i, entry := range strings.Split(config, ",") {
		var info device.Info
		switch strings.TrimSpace(entry) {
		case "gpu":
			info = device.Info{
				Class:            device.ClassGPU,
				MaxWorkgroupSize: 256,
				ComputeUnits:     16,
				GlobalMemory:     1 << 30,
			}
		case "cpu":
			info = device.Info{
				Class:            device.ClassCPU,
				MaxWorkgroupSize: 1024,
				ComputeUnits:     8,
				GlobalMemory:     4 << 30,
			}
		default:
			return nil, errors.Errorf("sim: unknown device class %q in config", entry)
		}
		info.Name = "sim-" + info.Class.String()
		if i > 0 {
			info.Name += string(rune('0' + i))
		}
		ctx.devices = append(ctx.devices, &Device{platform: p, ctx: ctx, info: info})
	}
	p.ctx = ctx
	p.devices = ctx.devices
	return p, nil
}

func (p *Platform) Name() string        { return "sim" }
func (p *Platform) Description() string { return "in-process simulated compute devices" }

func (p *Platform) Devices() ([]device.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return nil, device.Errorf("sim.Devices", device.InvalidContext, "platform finalized")
	}
	return p.devices, nil
}

// Finalize stops every queue goroutine. Pending operations complete first.
func (p *Platform) Finalize() {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return
	}
	p.finalized = true
	queues := p.queues
	p.queues = nil
	p.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
}

// Device is one simulated device.
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
		return nil, device.Errorf("sim.NewQueue", device.InvalidContext, "platform finalized")
	}
	q := newQueue(d)
	d.platform.queues = append(d.platform.queues, q)
	return q, nil
}

func (d *Device) NewBuffer(size uint64, flags device.MemFlags) (device.Buffer, error) {
	if size == 0 {
		return nil, device.Errorf("sim.NewBuffer", device.InvalidBufferSize, "zero-sized buffer")
	}
	if size > d.info.GlobalMemory {
		return nil, device.Errorf("sim.NewBuffer", device.OutOfResources,
			"%d bytes exceeds device memory", size)
	}
	return &Buffer{data: make([]byte, size), flags: flags}, nil
}

// Context groups the platform's devices; all sim devices share one.
type Context struct {
	platform *Platform
	id       uint64
	devices  []device.Device
}

func (c *Context) ID() uint64               { return c.id }
func (c *Context) Devices() []device.Device { return c.devices }

// BuildProgram compiles WGSL kernel source into an executable program. A
// source the front end cannot accept returns a *device.BuildError whose log
// cites the offending line.
func (c *Context) BuildProgram(source string) (device.Program, error) {
	return parseProgram(source)
}

// Buffer is a host-memory device buffer.
type Buffer struct {
	data  []byte
	flags device.MemFlags
}

func (b *Buffer) Size() uint64           { return uint64(len(b.data)) }
func (b *Buffer) Flags() device.MemFlags { return b.flags }
func (b *Buffer) Release()               { b.data = nil }
