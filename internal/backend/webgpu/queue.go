//go:build windows

package webgpu

import (
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/devec-ml/devec/device"
)

// Queue is an in-order command queue. WebGPU has one hardware queue per
// device, so all Queue values of a platform feed the same submission stream;
// a queue only tracks the readbacks it issued so Finish can resolve them.
type Queue struct {
	dev *Device

	mu      sync.Mutex
	pending []readback
}

// readback is a submitted device-to-host copy whose staging buffer still has
// to be mapped and drained.
type readback struct {
	staging *wgpu.Buffer
	dst     []byte
}

// event observes completion through its queue: waiting fences the whole queue,
// which in an in-order stream implies the recorded operation finished.
type event struct {
	q   *Queue
	err error
}

func (e *event) Wait() error {
	if e.err != nil {
		return e.err
	}
	if e.q != nil {
		return e.q.Finish()
	}
	return nil
}

func failed(err error) (device.Event, error) { return nil, err }

func (q *Queue) Device() device.Device { return q.dev }

// Buffer copies in WebGPU must be 4-byte aligned in both offset and size.
func checkAlignment(op string, offset, n uint64) error {
	if offset%4 != 0 || n%4 != 0 {
		return device.Errorf(op, device.Unsupported,
			"transfer of %d bytes at offset %d: WebGPU requires 4-byte alignment", n, offset)
	}
	return nil
}

func (q *Queue) EnqueueWrite(dst device.Buffer, offset uint64, src []byte) (device.Event, error) {
	buf, ok := dst.(*Buffer)
	if !ok {
		return failed(device.Errorf("webgpu.EnqueueWrite", device.InvalidValue, "foreign buffer"))
	}
	n := uint64(len(src))
	if n == 0 {
		return &event{}, nil
	}
	if offset+n > buf.size {
		return failed(device.Errorf("webgpu.EnqueueWrite", device.InvalidValue,
			"write of %d bytes at offset %d exceeds buffer size %d", n, offset, buf.size))
	}
	if err := checkAlignment("webgpu.EnqueueWrite", offset, n); err != nil {
		return failed(err)
	}

	upload := createUploadBuffer(q.dev.platform.gpu, src)
	defer upload.Release()

	encoder := q.dev.platform.gpu.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(upload, 0, buf.buf, offset, n)
	if err := q.dev.platform.submit(encoder.Finish(nil)); err != nil {
		return failed(err)
	}
	return &event{q: q}, nil
}

func (q *Queue) EnqueueRead(src device.Buffer, offset uint64, dst []byte) (device.Event, error) {
	buf, ok := src.(*Buffer)
	if !ok {
		return failed(device.Errorf("webgpu.EnqueueRead", device.InvalidValue, "foreign buffer"))
	}
	n := uint64(len(dst))
	if n == 0 {
		return &event{}, nil
	}
	if offset+n > buf.size {
		return failed(device.Errorf("webgpu.EnqueueRead", device.InvalidValue,
			"read of %d bytes at offset %d exceeds buffer size %d", n, offset, buf.size))
	}
	if err := checkAlignment("webgpu.EnqueueRead", offset, n); err != nil {
		return failed(err)
	}

	staging := q.dev.platform.pool.acquire(n)
	encoder := q.dev.platform.gpu.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(buf.buf, offset, staging, 0, n)
	if err := q.dev.platform.submit(encoder.Finish(nil)); err != nil {
		q.dev.platform.pool.release(staging, n)
		return failed(err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, readback{staging: staging, dst: dst})
	q.mu.Unlock()
	return &event{q: q}, nil
}

func (q *Queue) EnqueueCopy(dst, src device.Buffer, dstOff, srcOff, n uint64) (device.Event, error) {
	db, ok1 := dst.(*Buffer)
	sb, ok2 := src.(*Buffer)
	if !ok1 || !ok2 {
		return failed(device.Errorf("webgpu.EnqueueCopy", device.InvalidValue, "foreign buffer"))
	}
	if n == 0 {
		return &event{}, nil
	}
	if srcOff+n > sb.size || dstOff+n > db.size {
		return failed(device.Errorf("webgpu.EnqueueCopy", device.InvalidValue,
			"copy of %d bytes out of range (src %d+%d/%d, dst %d+%d/%d)",
			n, srcOff, n, sb.size, dstOff, n, db.size))
	}
	if err := checkAlignment("webgpu.EnqueueCopy", srcOff|dstOff, n); err != nil {
		return failed(err)
	}

	encoder := q.dev.platform.gpu.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(sb.buf, srcOff, db.buf, dstOff, n)
	if err := q.dev.platform.submit(encoder.Finish(nil)); err != nil {
		return failed(err)
	}
	return &event{q: q}, nil
}

// EnqueueKernel packs scalar args into a 16-byte-aligned uniform block, binds
// buffer args to the storage bindings from 1 on, and dispatches
// globalSize/localSize workgroups.
func (q *Queue) EnqueueKernel(k device.Kernel, globalSize, localSize uint64, args []device.Arg) (device.Event, error) {
	kern, ok := k.(*Kernel)
	if !ok {
		return failed(device.Errorf("webgpu.EnqueueKernel", device.InvalidValue, "foreign kernel"))
	}
	if localSize == 0 || globalSize%localSize != 0 {
		return failed(device.Errorf("webgpu.EnqueueKernel", device.InvalidValue,
			"global size %d not a multiple of local size %d", globalSize, localSize))
	}
	if localSize > uint64(q.dev.info.MaxWorkgroupSize) {
		return failed(device.Errorf("webgpu.EnqueueKernel", device.InvalidValue,
			"local size %d exceeds device maximum %d", localSize, q.dev.info.MaxWorkgroupSize))
	}

	params, buffers, err := splitArgs(args)
	if err != nil {
		return failed(err)
	}

	gpu := q.dev.platform.gpu
	uniform := createUploadUniform(gpu, params)
	defer uniform.Release()

	encoder := gpu.CreateCommandEncoder(nil)

	// WebGPU usage-scope validation rejects a dispatch that binds one buffer
	// both writable and readable, which happens whenever the output vector
	// also appears as an operand (v = v + w and friends). Operand bindings
	// aliasing the output are redirected through a snapshot taken before the
	// pass.
	if len(buffers) > 1 {
		var scratch *Buffer
		out := buffers[0]
		for i := 1; i < len(buffers); i++ {
			if buffers[i].buf != out.buf {
				continue
			}
			if scratch == nil {
				sbuf := createBuffer(gpu, &wgpu.BufferDescriptor{
					Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
					Size:  out.size,
				})
				encoder.CopyBufferToBuffer(out.buf, 0, sbuf, 0, out.size)
				scratch = &Buffer{buf: sbuf, size: out.size}
				defer sbuf.Release()
			}
			buffers[i] = scratch
		}
	}

	layout := kern.pipeline.GetBindGroupLayout(0)
	entries := make([]wgpu.BindGroupEntry, 0, len(buffers)+1)
	entries = append(entries, wgpu.BufferBindingEntry(0, uniform, 0, alignUniform(uint64(len(params)))))
	for i, b := range buffers {
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i+1), b.buf, 0, b.size))
	}
	bindGroup := gpu.CreateBindGroupSimple(layout, entries)
	defer bindGroup.Release()

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(kern.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32(globalSize/localSize), 1, 1)
	pass.End()
	if err := q.dev.platform.submit(encoder.Finish(nil)); err != nil {
		return failed(err)
	}
	return &event{q: q}, nil
}

// splitArgs separates the positional argument list into the packed uniform
// block and the ordered storage buffers. Scalar fields are packed in order,
// each aligned to its own size, matching the generated Params struct layout.
func splitArgs(args []device.Arg) (params []byte, buffers []*Buffer, err error) {
	for _, a := range args {
		switch {
		case a.Buffer != nil:
			b, ok := a.Buffer.(*Buffer)
			if !ok {
				return nil, nil, device.Errorf("webgpu.EnqueueKernel", device.InvalidKernelArgs, "foreign buffer argument")
			}
			buffers = append(buffers, b)
		case len(a.Value) > 0:
			size := uint64(len(a.Value))
			off := (uint64(len(params)) + size - 1) &^ (size - 1)
			for uint64(len(params)) < off+size {
				params = append(params, 0)
			}
			copy(params[off:], a.Value)
		default:
			return nil, nil, device.Errorf("webgpu.EnqueueKernel", device.InvalidKernelArgs, "empty argument")
		}
	}
	return params, buffers, nil
}

func alignUniform(n uint64) uint64 { return (n + 15) &^ 15 }

// createUploadUniform allocates a uniform buffer preloaded with data, padded
// to the 16-byte alignment uniform blocks require.
func createUploadUniform(gpu *wgpu.Device, data []byte) *wgpu.Buffer {
	size := alignUniform(uint64(len(data)))
	buf := gpu.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buf.GetMappedRange(0, size)), size)
	copy(mapped, data)
	buf.Unmap()
	return buf
}

// Finish resolves this queue's outstanding readbacks and then fences the
// hardware queue, so every operation enqueued before the call has completed
// when it returns.
func (q *Queue) Finish() error {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	var firstErr error
	for _, rb := range pending {
		n := uint64(len(rb.dst))
		if err := rb.staging.MapAsync(q.dev.platform.gpu, wgpu.MapModeRead, 0, n); err != nil {
			if firstErr == nil {
				firstErr = device.Errorf("webgpu.Finish", device.OutOfResources, "mapping staging buffer: %v", err)
			}
			rb.staging.Release()
			continue
		}
		mapped := unsafe.Slice((*byte)(rb.staging.GetMappedRange(0, n)), n)
		copy(rb.dst, mapped)
		rb.staging.Unmap()
		q.dev.platform.pool.release(rb.staging, n)
	}
	if firstErr != nil {
		return firstErr
	}
	return q.fence()
}

// fence copies four bytes into a fresh staging buffer and maps it. MapAsync
// returns only after prior submissions drained, which is the only completion
// signal the bindings expose.
func (q *Queue) fence() error {
	p := q.dev.platform
	staging := p.pool.acquire(4)
	encoder := p.gpu.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(p.syncSrc, 0, staging, 0, 4)
	if err := p.submit(encoder.Finish(nil)); err != nil {
		p.pool.release(staging, 4)
		return err
	}
	if err := staging.MapAsync(p.gpu, wgpu.MapModeRead, 0, 4); err != nil {
		staging.Release()
		return device.Errorf("webgpu.Finish", device.OutOfResources, "fence map: %v", err)
	}
	staging.Unmap()
	p.pool.release(staging, 4)
	return nil
}
