// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vec

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/devec-ml/devec/device"
	"github.com/devec-ml/devec/internal/kernel"
)

// Partitioner splits the logical index range [0, n) into per-device
// contiguous ranges, returning D+1 offsets with offsets[0] == 0,
// offsets[D] == n, non-decreasing.
type Partitioner func(n uint64, queues []device.Queue) ([]uint64, error)

// Session owns the state that would otherwise be process-global: the
// compiled-kernel cache and the partitioning strategy. Vectors built against
// different sessions never share compiled kernels, so tests can construct
// independent sessions without cross-contamination.
type Session struct {
	cache *kernel.Cache

	mu             sync.Mutex
	partitioner    Partitioner
	partitionerSet bool
}

// SessionOption configures a new session.
type SessionOption func(*Session)

// WithPartitioner installs the session's partitioning strategy.
func WithPartitioner(f Partitioner) SessionOption {
	return func(s *Session) {
		s.partitioner = f
		s.partitionerSet = true
	}
}

// NewSession creates a session. Without options the partitioner defaults to
// PartitionByVectorPerf on first use.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{cache: kernel.NewCache()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPartitioner installs f as the session's strategy. Like the partition
// strategy of the original design it is settable exactly once: once any
// vector has been partitioned (or a strategy was installed explicitly) later
// calls are ignored with a warning, so every vector of a session shares one
// layout policy.
func (s *Session) SetPartitioner(f Partitioner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partitionerSet {
		klog.Warning("devec: partitioning strategy is already set and will be left as is")
		return
	}
	s.partitioner = f
	s.partitionerSet = true
}

// KernelBuilds reports how many kernels this session has compiled. Each
// distinct (context, expression shape) pair builds exactly once.
func (s *Session) KernelBuilds() int64 { return s.cache.Builds() }

func (s *Session) partition(n uint64, queues []device.Queue) ([]uint64, error) {
	s.mu.Lock()
	if s.partitioner == nil {
		s.partitioner = PartitionByVectorPerf
		s.partitionerSet = true
	}
	f := s.partitioner
	s.mu.Unlock()
	return f(n, queues)
}

var (
	defaultSession     *Session
	defaultSessionOnce sync.Once
)

// Default returns the process-wide session used when vector constructors
// receive a nil session.
func Default() *Session {
	defaultSessionOnce.Do(func() {
		defaultSession = NewSession()
	})
	return defaultSession
}

// SetPartitionStrategy configures the default session's partitioner. Call it
// at most once, before the first vector is constructed; later calls warn and
// keep the installed strategy.
func SetPartitionStrategy(f Partitioner) {
	Default().SetPartitioner(f)
}
