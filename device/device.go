// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device defines the driver contract that compute backends implement:
// platforms, devices, command queues, buffers, events and compiled programs.
//
// The model follows the usual heterogeneous-compute shape: a Platform exposes
// one or more Devices, devices under one Context share compiled Programs, and
// every device owns in-order command Queues. Enqueue calls never block the
// caller; completion is observed through the returned Event or Queue.Finish.
//
// Implementations:
//   - backend/sim: portable in-process driver, executes generated kernels
//   - backend/webgpu: GPU driver over go-webgpu
package device

import "sync/atomic"

// Class describes the broad kind of a compute device. The execution scheduler
// uses it to pick a grid-sizing policy.
type Class int32

const (
	// ClassCPU marks devices where a thread is cheap and the whole range
	// should be covered by exactly one grid pass.
	ClassCPU Class = iota
	// ClassGPU marks throughput-oriented devices that prefer a fixed
	// oversubscribed grid with a stride loop.
	ClassGPU
	// ClassAccelerator marks other offload devices; treated like ClassGPU.
	ClassAccelerator
)

// String returns a short human-readable class name.
func (c Class) String() string {
	switch c {
	case ClassCPU:
		return "cpu"
	case ClassGPU:
		return "gpu"
	case ClassAccelerator:
		return "accel"
	}
	return "unknown"
}

// Info carries the device capabilities the library needs for partitioning and
// grid sizing.
type Info struct {
	Name             string
	Class            Class
	MaxWorkgroupSize int    // largest workgroup the device accepts
	ComputeUnits     int    // parallel compute units, used for GPU grid sizing
	GlobalMemory     uint64 // device memory in bytes
}

// MemFlags controls the access mode of an allocated buffer.
type MemFlags uint32

const (
	// MemReadWrite is the default access mode.
	MemReadWrite MemFlags = 0
	// MemReadOnly marks buffers the device only reads.
	MemReadOnly MemFlags = 1 << iota
	// MemWriteOnly marks buffers the device only writes.
	MemWriteOnly
)

// Platform is a named driver exposing a set of devices. Finalize releases
// every resource the platform created, including queues and buffers.
type Platform interface {
	Name() string
	Description() string
	Devices() ([]Device, error)
	Finalize()
}

// Device is a single compute device.
type Device interface {
	Info() Info
	Context() Context
	NewQueue() (Queue, error)
	NewBuffer(size uint64, flags MemFlags) (Buffer, error)
}

var contextIDs atomic.Uint64

// NextContextID allocates a context identifier. Drivers call it when creating
// a context so IDs stay unique across drivers within one process.
func NextContextID() uint64 { return contextIDs.Add(1) }

// Context groups devices that share compiled programs. Its identity is part
// of the compiled-kernel cache key.
type Context interface {
	// ID is stable for the context's lifetime and unique within the process.
	ID() uint64
	Devices() []Device
	// BuildProgram compiles kernel source for every device under the
	// context. A failed build returns a *BuildError carrying the full
	// compiler diagnostic log.
	BuildProgram(source string) (Program, error)
}

// Program is a built module holding one or more kernels.
type Program interface {
	Kernel(name string) (Kernel, error)
	Release()
}

// Kernel is an executable entry point of a Program.
type Kernel interface {
	Name() string
}

// Buffer is a device memory allocation.
type Buffer interface {
	Size() uint64
	Flags() MemFlags
	Release()
}

// Event tracks completion of one enqueued operation. Wait blocks until the
// operation finished and returns its error, if any.
type Event interface {
	Wait() error
}

// Queue is an in-order command queue on one device. Operations issued to the
// same queue execute in enqueue order; enqueue calls return without waiting
// for completion.
type Queue interface {
	Device() Device
	// EnqueueWrite copies src into dst at offset (bytes). src must stay
	// valid until the returned event completes.
	EnqueueWrite(dst Buffer, offset uint64, src []byte) (Event, error)
	// EnqueueRead copies n=len(dst) bytes out of src at offset into dst.
	EnqueueRead(src Buffer, offset uint64, dst []byte) (Event, error)
	// EnqueueCopy copies n bytes between two buffers on this queue's device.
	EnqueueCopy(dst, src Buffer, dstOff, srcOff, n uint64) (Event, error)
	// EnqueueKernel launches k with the given global and local (workgroup)
	// sizes. Args are positional; see Arg for the binding rules.
	EnqueueKernel(k Kernel, globalSize, localSize uint64, args []Arg) (Event, error)
	// Finish blocks until every previously enqueued operation completed.
	Finish() error
}

// Arg is one positional kernel argument: either a device buffer or a scalar
// value in little-endian bytes. Exactly one of the fields is set.
//
// Drivers map buffer args, in order, to the kernel's storage bindings
// starting at binding 1 (binding 0 is the uniform parameter block), and pack
// scalar args, in order, into that parameter block, each field aligned to its
// own size. The first two args of a generated kernel are always the element
// count (u32) and the output buffer.
type Arg struct {
	Buffer Buffer
	Value  []byte
}

// BufferArg wraps a buffer as a kernel argument.
func BufferArg(b Buffer) Arg { return Arg{Buffer: b} }

// ValueArg wraps little-endian scalar bytes as a kernel argument.
func ValueArg(v []byte) Arg { return Arg{Value: v} }

// Uint32Arg encodes n as a little-endian u32 argument.
func Uint32Arg(n uint32) Arg {
	return Arg{Value: []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}}
}
