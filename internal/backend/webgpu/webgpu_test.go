//go:build windows

package webgpu

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/devec-ml/devec/device"
)

func newTestPlatform(t *testing.T) *Platform {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available on this system")
	}
	p, err := New("")
	if err != nil {
		t.Skipf("WebGPU init failed: %v", err)
	}
	t.Cleanup(p.Finalize)
	return p
}

func TestDeviceInfo(t *testing.T) {
	p := newTestPlatform(t)
	devs, err := p.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 {
		t.Fatalf("got %d devices, want 1", len(devs))
	}
	info := devs[0].Info()
	if info.Class != device.ClassGPU {
		t.Errorf("class = %v, want gpu", info.Class)
	}
	if info.MaxWorkgroupSize != maxWorkgroupSize {
		t.Errorf("workgroup limit = %d, want %d", info.MaxWorkgroupSize, maxWorkgroupSize)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	p := newTestPlatform(t)
	devs, _ := p.Devices()
	q, err := devs[0].NewQueue()
	if err != nil {
		t.Fatal(err)
	}

	buf, err := devs[0].NewBuffer(64, device.MemReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i)
	}
	if _, err := q.EnqueueWrite(buf, 0, src); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 64)
	ev, err := q.EnqueueRead(buf, 0, dst)
	if err != nil {
		t.Fatal(err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatal(err)
	}
	for i := range dst {
		if dst[i] != src[i] {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestUnalignedTransferRejected(t *testing.T) {
	p := newTestPlatform(t)
	devs, _ := p.Devices()
	q, _ := devs[0].NewQueue()
	buf, err := devs[0].NewBuffer(16, device.MemReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	var derr *device.Error
	if _, err := q.EnqueueWrite(buf, 2, make([]byte, 4)); !errors.As(err, &derr) || derr.Status != device.Unsupported {
		t.Errorf("unaligned write: got %v, want unsupported", err)
	}
}

func TestBuildRejectsFloat64(t *testing.T) {
	p := newTestPlatform(t)
	devs, _ := p.Devices()

	_, err := devs[0].Context().BuildProgram("@group(0) @binding(1) var<storage, read_write> res: array<f64>;")
	var be *device.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("f64 source accepted: %v", err)
	}
}

func TestStagingPoolReuse(t *testing.T) {
	p := newTestPlatform(t)

	b1 := p.pool.acquire(256)
	p.pool.release(b1, 256)
	b2 := p.pool.acquire(128)
	defer p.pool.release(b2, 256)

	if b1 != b2 {
		t.Errorf("pool did not reuse the released staging buffer")
	}
	hits, _ := p.pool.stats()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestSplitArgsPacking(t *testing.T) {
	// n (u32) then an f64 scalar: the 8-byte field aligns to offset 8.
	params, buffers, err := splitArgs([]device.Arg{
		device.Uint32Arg(7),
		device.ValueArg([]byte{1, 2, 3, 4, 5, 6, 7, 8}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(buffers) != 0 {
		t.Errorf("unexpected buffers: %d", len(buffers))
	}
	if len(params) != 16 {
		t.Fatalf("packed length = %d, want 16", len(params))
	}
	if params[0] != 7 || params[8] != 1 {
		t.Errorf("fields misplaced: % x", params)
	}
}

func TestAdapterNameZeroInfo(t *testing.T) {
	if got := adapterName(wgpu.AdapterInfo{}); got != "unknown adapter" {
		t.Errorf("zero adapter info named %q", got)
	}
	got := adapterName(wgpu.AdapterInfo{Name: "RTX", VendorName: "NVIDIA"})
	if got != "RTX NVIDIA" {
		t.Errorf("adapter named %q", got)
	}
}

const doubleInPlaceShader = `struct Params { n: u32, }
@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> res: array<f32>;
@group(0) @binding(2) var<storage, read> v0: array<f32>;
@compute @workgroup_size(64)
fn double_in_place(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
    let stride = nwg.x * 64u;
    var i = gid.x;
    loop {
        if (i >= params.n) { break; }
        res[i] = v0[i] + v0[i];
        i = i + stride;
    }
}
`

func TestKernelOutputAliasesOperand(t *testing.T) {
	p := newTestPlatform(t)
	devs, _ := p.Devices()
	q, err := devs[0].NewQueue()
	if err != nil {
		t.Fatal(err)
	}

	prog, err := devs[0].Context().BuildProgram(doubleInPlaceShader)
	if err != nil {
		t.Fatal(err)
	}
	defer prog.Release()
	kern, err := prog.Kernel("double_in_place")
	if err != nil {
		t.Fatal(err)
	}

	buf, err := devs[0].NewBuffer(16, device.MemReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	src := make([]byte, 16)
	for i, f := range []float32{1, 2, 3, 4} {
		binary.LittleEndian.PutUint32(src[i*4:], math.Float32bits(f))
	}
	if _, err := q.EnqueueWrite(buf, 0, src); err != nil {
		t.Fatal(err)
	}

	// The same buffer feeds the writable output binding and the read-only
	// operand binding.
	args := []device.Arg{
		device.Uint32Arg(4),
		device.BufferArg(buf),
		device.BufferArg(buf),
	}
	ev, err := q.EnqueueKernel(kern, 64, 64, args)
	if err != nil {
		t.Fatal(err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, 16)
	rev, err := q.EnqueueRead(buf, 0, dst)
	if err != nil {
		t.Fatal(err)
	}
	if err := rev.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{2, 4, 6, 8} {
		got := math.Float32frombits(binary.LittleEndian.Uint32(dst[i*4:]))
		if got != want {
			t.Errorf("element %d = %g, want %g", i, got, want)
		}
	}
}
