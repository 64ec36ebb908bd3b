package kernel

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/devec-ml/devec/device"
	"github.com/devec-ml/devec/internal/expr"
)

// maxWorkgroup is the ceiling from which workgroup-size selection halves
// down until every device in the context accepts the size.
const maxWorkgroup = 1024

// Entry is one compiled kernel: the built program, its entry point and the
// workgroup size baked into the source.
type Entry struct {
	Program   device.Program
	Kernel    device.Kernel
	Workgroup int
	Name      string
	Source    string
}

type cacheKey struct {
	context uint64
	name    string
}

// Cache memoizes compiled kernels per (context identity, expression shape).
// Entries live as long as the cache; there is no eviction. A session owns
// one cache, so independent sessions never share builds.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*Entry
	builds  int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*Entry)}
}

// Builds returns how many programs the cache has built. Tests use it to
// observe cache hits.
func (c *Cache) Builds() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

// GetOrBuild returns the compiled kernel for the shape of root under ctx,
// building it on first encounter. The cache lock is held across the build,
// making get-or-build atomic: concurrent first use of one shape compiles
// once, and a failed build leaves no entry behind.
func (c *Cache) GetOrBuild(ctx device.Context, root expr.Node, t expr.Type) (*Entry, error) {
	wg := workgroupSize(ctx)
	name, source := Generate(root, t, wg)
	key := cacheKey{context: ctx.ID(), name: name}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e, nil
	}

	klog.V(1).Infof("devec: building kernel %s (workgroup %d) for context %d", name, wg, ctx.ID())
	prog, err := ctx.BuildProgram(source)
	if err != nil {
		return nil, errors.Wrapf(err, "building kernel %s", name)
	}
	k, err := prog.Kernel(name)
	if err != nil {
		prog.Release()
		return nil, errors.Wrapf(err, "resolving kernel %s", name)
	}
	e := &Entry{Program: prog, Kernel: k, Workgroup: wg, Name: name, Source: source}
	c.entries[key] = e
	c.builds++
	return e, nil
}

// workgroupSize starts at the largest power-of-two candidate and halves until
// no device in the context reports a smaller maximum.
func workgroupSize(ctx device.Context) int {
	wg := maxWorkgroup
	for _, d := range ctx.Devices() {
		limit := d.Info().MaxWorkgroupSize
		if limit < 1 {
			limit = 1
		}
		for wg > limit {
			wg /= 2
		}
	}
	return wg
}
