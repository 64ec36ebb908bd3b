//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// Readback staging buffers (MapRead | CopyDst) are allocated constantly by
// EnqueueRead and the queue fence, so they are pooled by size class instead
// of created per transfer.
const (
	smallStaging  = 4 << 10
	mediumStaging = 1 << 20
	maxPooled     = 64
)

type stagingPool struct {
	gpu *wgpu.Device

	mu     sync.Mutex
	small  []pooledStaging
	medium []pooledStaging
	large  []pooledStaging

	hits, misses uint64
}

type pooledStaging struct {
	buf  *wgpu.Buffer
	size uint64
}

func newStagingPool(gpu *wgpu.Device) *stagingPool {
	return &stagingPool{gpu: gpu}
}

// acquire returns a staging buffer of at least size bytes, reusing a pooled
// one when possible.
func (p *stagingPool) acquire(size uint64) *wgpu.Buffer {
	p.mu.Lock()
	class := p.class(size)
	for i, ps := range *class {
		if ps.size >= size {
			*class = append((*class)[:i], (*class)[i+1:]...)
			p.hits++
			p.mu.Unlock()
			return ps.buf
		}
	}
	p.misses++
	p.mu.Unlock()

	return p.gpu.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
}

// release returns a buffer to its size class, or frees it when the class is
// full.
func (p *stagingPool) release(buf *wgpu.Buffer, size uint64) {
	p.mu.Lock()
	class := p.class(size)
	if len(*class) >= maxPooled {
		p.mu.Unlock()
		buf.Release()
		return
	}
	*class = append(*class, pooledStaging{buf: buf, size: size})
	p.mu.Unlock()
}

func (p *stagingPool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, class := range []*[]pooledStaging{&p.small, &p.medium, &p.large} {
		for _, ps := range *class {
			ps.buf.Release()
		}
		*class = nil
	}
}

func (p *stagingPool) stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}

func (p *stagingPool) class(size uint64) *[]pooledStaging {
	switch {
	case size < smallStaging:
		return &p.small
	case size < mediumStaging:
		return &p.medium
	default:
		return &p.large
	}
}
