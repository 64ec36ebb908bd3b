// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package vec implements logical vectors partitioned across one or more
// compute devices, with lazy arithmetic expressions compiled into fused
// per-device kernels.
//
// A Vector owns one buffer, one command queue reference and one pending
// event slot per device. Expressions over vectors and scalars build a tree
// without touching any device; assigning the tree to a vector compiles one
// kernel per expression shape and context (cached for the session lifetime)
// and dispatches it asynchronously on every device owning a non-empty
// partition.
//
// Example:
//
//	p, _ := device.NewWithConfig("sim")
//	defer p.Finalize()
//	queues, _ := device.AllQueues(p)
//
//	sess := vec.NewSession(vec.WithPartitioner(vec.PartitionEqually))
//	a, _ := vec.FromSlice(sess, queues, []float32{0, 1, 2, 3})
//	b, _ := vec.New[float32](sess, queues, 4)
//	_ = b.Assign(vec.Add(a.Expr(), a.Expr()))
//
//	out := make([]float32, 4)
//	_ = vec.CopyToHost(b, out, true)
package vec

import (
	"math"
	"sort"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/devec-ml/devec/device"
	"github.com/devec-ml/devec/internal/expr"
)

// Element constrains vector element types. ~uint16 admits only
// float16.Float16; a plain uint16 is rejected at construction.
type Element interface {
	~float32 | ~float64 | ~int32 | ~uint32 | ~uint16
}

// Typed errors surfaced by vector operations.
var (
	// ErrPartitionMismatch reports an operation between vectors whose
	// partition layouts (device list or offsets) differ.
	ErrPartitionMismatch = errors.New("devec: partition layouts do not match")
	// ErrSizeMismatch reports a transfer range outside the vector.
	ErrSizeMismatch = errors.New("devec: transfer range exceeds vector size")
)

func typeOf[T Element]() (expr.Type, error) {
	var z T
	switch any(z).(type) {
	case float32:
		return expr.F32, nil
	case float64:
		return expr.F64, nil
	case int32:
		return expr.I32, nil
	case uint32:
		return expr.U32, nil
	case float16.Float16:
		return expr.F16, nil
	}
	return 0, errors.Errorf("devec: unsupported element type %T", z)
}

func elemSize[T Element]() uint64 {
	var z T
	return uint64(unsafe.Sizeof(z))
}

// byteView reinterprets a host slice as bytes without copying, so
// non-blocking transfers land directly in caller memory.
func byteView[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), uintptr(len(s))*unsafe.Sizeof(s[0]))
}

// encodeScalar produces the wire form of a scalar kernel argument:
// little-endian, with float16 promoted to float32 bits.
func encodeScalar[T Element](v T) []byte {
	put32 := func(u uint32) []byte {
		return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
	}
	switch v := any(v).(type) {
	case float32:
		return put32(math.Float32bits(v))
	case float64:
		u := math.Float64bits(v)
		return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24),
			byte(u >> 32), byte(u >> 40), byte(u >> 48), byte(u >> 56)}
	case int32:
		return put32(uint32(v))
	case uint32:
		return put32(v)
	case float16.Float16:
		return put32(math.Float32bits(v.Float32()))
	}
	return nil
}

// Vector is a logical vector of T spread across the devices behind its
// command queues. The partition and buffers are fixed for the vector's
// lifetime unless it is explicitly resized.
//
// A vector is not safe for concurrent method calls.
type Vector[T Element] struct {
	sess   *Session
	queues []device.Queue
	part   []uint64
	bufs   []device.Buffer
	events []device.Event
	flags  device.MemFlags
	typ    expr.Type
}

type config struct {
	flags device.MemFlags
}

// Option configures vector construction.
type Option func(*config)

// WithFlags sets the memory access flags of the vector's buffers.
func WithFlags(f device.MemFlags) Option {
	return func(c *config) { c.flags = f }
}

// New creates a vector of the given size. A nil session selects the default
// session. The session's partitioner decides the per-device layout; buffers
// are allocated only for non-empty partitions and their contents are
// unspecified until written.
func New[T Element](sess *Session, queues []device.Queue, size uint64, opts ...Option) (*Vector[T], error) {
	typ, err := typeOf[T]()
	if err != nil {
		return nil, err
	}
	if len(queues) == 0 {
		return nil, errors.New("devec: a vector needs at least one queue")
	}
	if sess == nil {
		sess = Default()
	}
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	part, err := sess.partition(size, queues)
	if err != nil {
		return nil, errors.Wrap(err, "devec: partitioning failed")
	}
	if err := checkPartition(part, size, len(queues)); err != nil {
		return nil, err
	}

	v := &Vector[T]{
		sess:   sess,
		queues: queues,
		part:   part,
		bufs:   make([]device.Buffer, len(queues)),
		events: make([]device.Event, len(queues)),
		flags:  cfg.flags,
		typ:    typ,
	}
	es := elemSize[T]()
	for d := range queues {
		if psize := part[d+1] - part[d]; psize > 0 {
			buf, err := queues[d].Device().NewBuffer(psize*es, cfg.flags)
			if err != nil {
				v.Release()
				return nil, errors.Wrapf(err, "devec: allocating partition %d", d)
			}
			v.bufs[d] = buf
		}
	}
	return v, nil
}

// FromSlice creates a vector sized and initialized from host data; the write
// is blocking, so host may be reused immediately.
func FromSlice[T Element](sess *Session, queues []device.Queue, host []T, opts ...Option) (*Vector[T], error) {
	v, err := New[T](sess, queues, uint64(len(host)), opts...)
	if err != nil {
		return nil, err
	}
	if err := v.WriteData(0, host, true); err != nil {
		v.Release()
		return nil, err
	}
	return v, nil
}

func checkPartition(part []uint64, size uint64, d int) error {
	if len(part) != d+1 || part[0] != 0 || part[d] != size {
		return errors.Errorf("devec: partitioner returned invalid offsets %v for n=%d, D=%d", part, size, d)
	}
	for i := 0; i < d; i++ {
		if part[i+1] < part[i] {
			return errors.Errorf("devec: partitioner returned decreasing offsets %v", part)
		}
		// Kernels index their partition with a 32-bit element count.
		if part[i+1]-part[i] > math.MaxUint32 {
			return errors.Errorf("devec: partition %d holds %d elements, beyond the 32-bit kernel index range",
				i, part[i+1]-part[i])
		}
	}
	return nil
}

// Size returns the logical element count.
func (v *Vector[T]) Size() uint64 { return v.part[len(v.part)-1] }

// Parts returns the device count.
func (v *Vector[T]) Parts() int { return len(v.queues) }

// PartSize returns the element count owned by device d.
func (v *Vector[T]) PartSize(d int) uint64 { return v.part[d+1] - v.part[d] }

// PartStart returns the first logical index owned by device d.
func (v *Vector[T]) PartStart(d int) uint64 { return v.part[d] }

// Partition returns the D+1 partition offsets. The slice is shared; treat it
// as read-only.
func (v *Vector[T]) Partition() []uint64 { return v.part }

// Queues returns the vector's command queues, one per device.
func (v *Vector[T]) Queues() []device.Queue { return v.queues }

// BufferAt returns device d's buffer, or nil for an empty partition.
func (v *Vector[T]) BufferAt(d int) device.Buffer { return v.bufs[d] }

// Session returns the session the vector was built against.
func (v *Vector[T]) Session() *Session { return v.sess }

// Swap exchanges the descriptors of two vectors in constant time. No device
// data moves.
func (v *Vector[T]) Swap(other *Vector[T]) {
	*v, *other = *other, *v
}

// Swap exchanges two vectors' descriptors in constant time.
func Swap[T Element](a, b *Vector[T]) { a.Swap(b) }

// Release frees the vector's device buffers. The vector must not be used
// afterwards except as a resize or swap target.
func (v *Vector[T]) Release() {
	for d, b := range v.bufs {
		if b != nil {
			b.Release()
			v.bufs[d] = nil
		}
	}
}

// Resize reallocates the vector with a fresh partition over queues,
// discarding old contents. The new buffers are unspecified until written.
func (v *Vector[T]) Resize(queues []device.Queue, size uint64, opts ...Option) error {
	nv, err := New[T](v.sess, queues, size, opts...)
	if err != nil {
		return err
	}
	v.Swap(nv)
	nv.Release()
	return nil
}

// ResizeFrom reallocates the vector to src's queue list and size, then
// copies src's contents device to device.
func (v *Vector[T]) ResizeFrom(src *Vector[T], opts ...Option) error {
	if err := v.Resize(src.queues, src.Size(), opts...); err != nil {
		return err
	}
	return v.CopyFrom(src)
}

// CopyFrom copies src's contents into v with per-device buffer-to-buffer
// copies. Both vectors must share the same partition layout over the same
// devices; otherwise ErrPartitionMismatch is returned and nothing is copied.
// The copies are enqueued without blocking; queue order makes them visible
// to later operations on the same queues.
func (v *Vector[T]) CopyFrom(src *Vector[T]) error {
	if v == src {
		return nil
	}
	if !sameLayout(v, src) {
		return errors.Wrapf(ErrPartitionMismatch, "copy between %v and %v", v.part, src.part)
	}
	es := elemSize[T]()
	for d := range v.queues {
		psize := v.PartSize(d)
		if psize == 0 {
			continue
		}
		ev, err := v.queues[d].EnqueueCopy(v.bufs[d], src.bufs[d], 0, 0, psize*es)
		if err != nil {
			return errors.Wrapf(err, "devec: copy on device %d", d)
		}
		v.events[d] = ev
	}
	return nil
}

func sameLayout[T Element](a, b *Vector[T]) bool {
	if len(a.queues) != len(b.queues) || len(a.part) != len(b.part) {
		return false
	}
	for i := range a.part {
		if a.part[i] != b.part[i] {
			return false
		}
	}
	for i := range a.queues {
		if a.queues[i].Device() != b.queues[i].Device() {
			return false
		}
	}
	return true
}

// owner locates the device owning logical index i: the largest d with
// part[d] <= i. O(log D).
func (v *Vector[T]) owner(i uint64) int {
	return sort.Search(len(v.part), func(j int) bool { return v.part[j] > i }) - 1
}
