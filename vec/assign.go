// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vec

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/devec-ml/devec/device"
	"github.com/devec-ml/devec/internal/expr"
	"github.com/devec-ml/devec/internal/kernel"
)

// gridMultiplier oversubscribes GPU-class devices: the grid is
// computeUnits * workgroup * gridMultiplier threads regardless of partition
// size, and the kernel's stride loop covers the rest.
const gridMultiplier = 4

// Assign evaluates the expression into v, one fused kernel launch per device
// owning a non-empty partition.
//
// The kernel for the expression's shape is built on first encounter per
// context and cached for the session lifetime; later assignments with the
// same shape reuse it. Dispatch is asynchronous: the call returns once every
// device has been issued work, with per-device completion observable through
// the vector's pending events or a blocking operation on the same queues.
//
// Every vector referenced by the expression must share v's partition layout.
// If a device fails after others were already issued work, those devices may
// have written their partitions; the error names the failing device.
func (v *Vector[T]) Assign(e Expr[T]) error {
	terms := expr.Terminals(e.node)
	operands := make([]*Vector[T], len(terms))
	for i, t := range terms {
		vt, ok := t.(*expr.VecTerm)
		if !ok {
			continue
		}
		w, ok := vt.Ref.(*Vector[T])
		if !ok {
			return errors.Errorf("devec: expression references a vector of a different element type")
		}
		if !sameLayout(v, w) {
			return errors.Wrapf(ErrPartitionMismatch, "operand %d has layout %v, destination %v",
				i, w.part, v.part)
		}
		operands[i] = w
	}

	// Build (or fetch) the kernel once per distinct context.
	entries := make(map[uint64]*kernel.Entry)
	for _, q := range v.queues {
		ctx := q.Device().Context()
		if _, ok := entries[ctx.ID()]; ok {
			continue
		}
		ent, err := v.sess.cache.GetOrBuild(ctx, e.node, v.typ)
		if err != nil {
			return err
		}
		entries[ctx.ID()] = ent
	}

	var g errgroup.Group
	for d := range v.queues {
		psize := v.PartSize(d)
		if psize == 0 {
			continue
		}
		g.Go(func() error {
			q := v.queues[d]
			ent := entries[q.Device().Context().ID()]
			info := q.Device().Info()

			wg := uint64(ent.Workgroup)
			var global uint64
			if info.Class == device.ClassCPU {
				global = alignUp(psize, wg)
			} else {
				global = uint64(info.ComputeUnits) * wg * gridMultiplier
			}

			args := make([]device.Arg, 0, 2+len(terms))
			args = append(args, device.Uint32Arg(uint32(psize)), device.BufferArg(v.bufs[d]))
			for i, t := range terms {
				switch t := t.(type) {
				case *expr.VecTerm:
					args = append(args, device.BufferArg(operands[i].bufs[d]))
				case *expr.ScalarTerm:
					args = append(args, device.ValueArg(t.Bits))
				}
			}

			ev, err := q.EnqueueKernel(ent.Kernel, global, wg, args)
			if err != nil {
				return errors.Wrapf(err, "devec: dispatch on device %d", d)
			}
			v.events[d] = ev
			return nil
		})
	}
	return g.Wait()
}

// AddAssign evaluates v = v + e.
func (v *Vector[T]) AddAssign(e Expr[T]) error { return v.Assign(Add(v.Expr(), e)) }

// SubAssign evaluates v = v - e.
func (v *Vector[T]) SubAssign(e Expr[T]) error { return v.Assign(Sub(v.Expr(), e)) }

// MulAssign evaluates v = v * e.
func (v *Vector[T]) MulAssign(e Expr[T]) error { return v.Assign(Mul(v.Expr(), e)) }

// DivAssign evaluates v = v / e.
func (v *Vector[T]) DivAssign(e Expr[T]) error { return v.Assign(Div(v.Expr(), e)) }

// Finish drains every queue of the vector, making all pending operations
// against it visible.
func (v *Vector[T]) Finish() error {
	for d, q := range v.queues {
		if err := q.Finish(); err != nil {
			return errors.Wrapf(err, "devec: finishing queue %d", d)
		}
	}
	return nil
}

// Multiplier is the contract for external operators, such as a sparse
// matrix, that know how to multiply themselves into a vector. They act as
// expression terminals for additive updates without being part of the fused
// kernel.
type Multiplier[T Element] interface {
	MulInto(v *Vector[T]) error
}

// AssignSum evaluates v = e, then lets the multiplier accumulate its product
// into v.
func (v *Vector[T]) AssignSum(e Expr[T], m Multiplier[T]) error {
	if err := v.Assign(e); err != nil {
		return err
	}
	return m.MulInto(v)
}
