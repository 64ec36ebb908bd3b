// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vec

import (
	"github.com/pkg/errors"

	"github.com/devec-ml/devec/device"
)

// WriteData copies host data into the logical range [offset, offset+len).
// Per device only the overlap with that device's partition is transferred;
// devices with an empty overlap are not touched. Transfers are issued
// non-blocking; with blocking set, the call waits on each touched device's
// completion event before returning. An empty data slice is a no-op.
//
// For a non-blocking write the data slice must stay valid and unmodified
// until the pending events complete.
func (v *Vector[T]) WriteData(offset uint64, data []T, blocking bool) error {
	return v.transfer(offset, uint64(len(data)), byteView(data), blocking, false)
}

// ReadData copies the logical range [offset, offset+len) into out, with the
// same per-device overlap rules as WriteData. Non-blocking reads land
// directly in out once the pending events complete.
func (v *Vector[T]) ReadData(offset uint64, out []T, blocking bool) error {
	return v.transfer(offset, uint64(len(out)), byteView(out), blocking, true)
}

func (v *Vector[T]) transfer(offset, count uint64, host []byte, blocking, read bool) error {
	if count == 0 {
		return nil
	}
	if offset+count > v.Size() {
		return errors.Wrapf(ErrSizeMismatch, "range [%d,%d) on vector of size %d",
			offset, offset+count, v.Size())
	}

	es := elemSize[T]()
	touched := make([]bool, len(v.queues))
	for d := range v.queues {
		start := max(offset, v.part[d])
		stop := min(offset+count, v.part[d+1])
		if stop <= start {
			continue
		}
		local := (start - v.part[d]) * es
		hostSlice := host[(start-offset)*es : (stop-offset)*es]

		var (
			ev  device.Event
			err error
		)
		if read {
			ev, err = v.queues[d].EnqueueRead(v.bufs[d], local, hostSlice)
		} else {
			ev, err = v.queues[d].EnqueueWrite(v.bufs[d], local, hostSlice)
		}
		if err != nil {
			return errors.Wrapf(err, "devec: transfer on device %d", d)
		}
		v.events[d] = ev
		touched[d] = true
	}

	if blocking {
		for d, t := range touched {
			if !t {
				continue
			}
			if err := v.events[d].Wait(); err != nil {
				return errors.Wrapf(err, "devec: transfer on device %d", d)
			}
		}
	}
	return nil
}

// ElementRef is a proxy for a single vector element, returned by At. Get and
// Set are blocking single-element transfers; the per-call latency makes them
// suitable for debugging, not bulk access.
type ElementRef[T Element] struct {
	v     *Vector[T]
	d     int
	local uint64
	oob   bool
}

// At returns a proxy for logical index i. The owning device is found by
// binary search of the partition boundaries.
func (v *Vector[T]) At(i uint64) ElementRef[T] {
	if i >= v.Size() {
		return ElementRef[T]{oob: true}
	}
	d := v.owner(i)
	return ElementRef[T]{v: v, d: d, local: i - v.part[d]}
}

// Get reads the element from its device.
func (e ElementRef[T]) Get() (T, error) {
	var out [1]T
	if e.oob {
		return out[0], errors.Wrap(ErrSizeMismatch, "element index out of range")
	}
	ev, err := e.v.queues[e.d].EnqueueRead(e.v.bufs[e.d], e.local*elemSize[T](), byteView(out[:]))
	if err != nil {
		return out[0], err
	}
	return out[0], ev.Wait()
}

// Set writes the element to its device.
func (e ElementRef[T]) Set(val T) error {
	if e.oob {
		return errors.Wrap(ErrSizeMismatch, "element index out of range")
	}
	in := [1]T{val}
	ev, err := e.v.queues[e.d].EnqueueWrite(e.v.bufs[e.d], e.local*elemSize[T](), byteView(in[:]))
	if err != nil {
		return err
	}
	return ev.Wait()
}

// Iterator is a random-access position in a vector's flat index space. It
// tracks the current device part, which only ever advances while stepping
// forward, so boundary crossings never rescan earlier devices.
type Iterator[T Element] struct {
	v    *Vector[T]
	pos  uint64
	part int
}

// Begin returns an iterator at index 0.
func (v *Vector[T]) Begin() Iterator[T] { return v.Iter(0) }

// End returns the past-the-end iterator.
func (v *Vector[T]) End() Iterator[T] {
	return Iterator[T]{v: v, pos: v.Size(), part: len(v.queues) - 1}
}

// Iter returns an iterator at pos, locating the owning part by binary
// search. The part index is clamped to the valid device range, so the
// past-the-end position carries the last part like End does.
func (v *Vector[T]) Iter(pos uint64) Iterator[T] {
	p := v.owner(min(pos, v.Size()))
	if p >= len(v.queues) {
		p = len(v.queues) - 1
	}
	if p < 0 {
		p = 0
	}
	return Iterator[T]{v: v, pos: pos, part: p}
}

// Next advances one element, stepping the part index across any empty
// partitions.
func (it *Iterator[T]) Next() {
	it.pos++
	for it.part < len(it.v.queues)-1 && it.pos >= it.v.part[it.part+1] {
		it.part++
	}
}

// Add returns an iterator delta positions away.
func (it Iterator[T]) Add(delta int64) Iterator[T] {
	return it.v.Iter(uint64(int64(it.pos) + delta))
}

// Sub returns the distance between two iterators over the same vector.
func (it Iterator[T]) Sub(other Iterator[T]) int64 {
	return int64(it.pos) - int64(other.pos)
}

// Equal reports whether two iterators address the same position.
func (it Iterator[T]) Equal(other Iterator[T]) bool {
	return it.v == other.v && it.pos == other.pos
}

// Pos returns the flat index.
func (it Iterator[T]) Pos() uint64 { return it.pos }

// Part returns the device part currently owning the position.
func (it Iterator[T]) Part() int { return it.part }

// Ref dereferences to the element proxy.
func (it Iterator[T]) Ref() ElementRef[T] { return it.v.At(it.pos) }

// CopyToHost copies a device vector into a host slice, min(len(dst),
// v.Size()) elements from index 0.
func CopyToHost[T Element](v *Vector[T], dst []T, blocking bool) error {
	n := min(uint64(len(dst)), v.Size())
	return v.ReadData(0, dst[:n], blocking)
}

// CopyFromHost copies a host slice into a device vector, min(len(src),
// v.Size()) elements from index 0.
func CopyFromHost[T Element](src []T, v *Vector[T], blocking bool) error {
	n := min(uint64(len(src)), v.Size())
	return v.WriteData(0, src[:n], blocking)
}

// CopyRangeToHost copies the device range [first, last) into dst,
// min(last-first, len(dst)) elements.
func CopyRangeToHost[T Element](first, last Iterator[T], dst []T, blocking bool) error {
	n := last.Sub(first)
	if n < 0 {
		return errors.Wrap(ErrSizeMismatch, "reversed iterator range")
	}
	m := min(uint64(n), uint64(len(dst)))
	return first.v.ReadData(first.pos, dst[:m], blocking)
}

// CopyRangeFromHost copies src into the device range starting at first.
func CopyRangeFromHost[T Element](src []T, first Iterator[T], blocking bool) error {
	return first.v.WriteData(first.pos, src, blocking)
}
