// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vec

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"golang.org/x/sync/errgroup"

	"github.com/devec-ml/devec/device"
	"github.com/devec-ml/devec/internal/profile"
)

// partAlign is the boundary alignment of partition chunks, in elements.
const partAlign = 16

// alignUp rounds n up to the next multiple of m.
func alignUp[T constraints.Integer](n, m T) T {
	if r := n % m; r != 0 {
		return n - r + m
	}
	return n
}

// PartitionEqually splits [0, n) into near-equal chunks, one per queue,
// aligned to partAlign elements. A single queue owns the whole range; with
// more queues every device but possibly the last receives the same chunk.
func PartitionEqually(n uint64, queues []device.Queue) ([]uint64, error) {
	d := uint64(len(queues))
	if d == 0 {
		return nil, errors.New("devec: partitioning over an empty queue list")
	}
	part := make([]uint64, d+1)
	if d == 1 {
		part[1] = n
		return part, nil
	}
	chunk := alignUp((n+d-1)/d, uint64(partAlign))
	for i := uint64(0); i < d; i++ {
		part[i+1] = min(n, part[i]+chunk)
	}
	return part, nil
}

// perfTestSize is the element count of the vectors used by the device
// benchmark.
const perfTestSize = 1 << 20

// DeviceVectorPerf measures one device's elementwise throughput: it builds
// three float32 vectors on that queue alone, runs a = b + c once to absorb
// the kernel build, times a second run, and returns the reciprocal seconds.
// Bigger is faster.
func DeviceVectorPerf(q device.Queue) (float64, error) {
	sess := NewSession(WithPartitioner(PartitionEqually))
	queues := []device.Queue{q}

	a, err := New[float32](sess, queues, perfTestSize)
	if err != nil {
		return 0, err
	}
	defer a.Release()
	b, err := New[float32](sess, queues, perfTestSize)
	if err != nil {
		return 0, err
	}
	defer b.Release()
	c, err := New[float32](sess, queues, perfTestSize)
	if err != nil {
		return 0, err
	}
	defer c.Release()

	sum := Add(b.Expr(), c.Expr())
	if err := a.Assign(sum); err != nil {
		return 0, err
	}

	prof := profile.New(queues)
	if err := prof.Tic(); err != nil {
		return 0, err
	}
	if err := a.Assign(sum); err != nil {
		return 0, err
	}
	elapsed, err := prof.Toc()
	if err != nil {
		return 0, err
	}
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	return 1 / elapsed, nil
}

// PartitionByVectorPerf weights each device's share of [0, n) by its
// measured throughput. It is the default strategy. Benchmarks run
// concurrently, one per device, each on its own queue in isolation.
func PartitionByVectorPerf(n uint64, queues []device.Queue) ([]uint64, error) {
	d := len(queues)
	if d == 0 {
		return nil, errors.New("devec: partitioning over an empty queue list")
	}
	if d == 1 || n == 0 {
		return PartitionEqually(n, queues)
	}

	weights := make([]float64, d)
	var g errgroup.Group
	for i, q := range queues {
		g.Go(func() error {
			w, err := DeviceVectorPerf(q)
			weights[i] = w
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "devec: device benchmark failed")
	}

	var total float64
	for _, w := range weights {
		total += w
	}

	part := make([]uint64, d+1)
	var cum float64
	for i := 0; i < d-1; i++ {
		cum += weights[i]
		boundary := alignUp(uint64(float64(n)*cum/total), uint64(partAlign))
		part[i+1] = max(part[i], min(n, boundary))
	}
	part[d] = n
	return part, nil
}
