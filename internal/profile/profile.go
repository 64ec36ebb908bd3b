// Package profile is a minimal wall-clock timer over command queues, used to
// measure the device benchmark that drives performance-weighted partitioning.
package profile

import (
	"time"

	"github.com/devec-ml/devec/device"
)

// Profiler times work issued to a fixed set of queues. Tic and Toc both
// drain the queues first, so the measured interval covers device execution,
// not just enqueue latency.
type Profiler struct {
	queues []device.Queue
	start  time.Time
}

// New returns a profiler over the given queues.
func New(queues []device.Queue) *Profiler {
	return &Profiler{queues: queues}
}

// Tic drains the queues and records the start time.
func (p *Profiler) Tic() error {
	if err := p.drain(); err != nil {
		return err
	}
	p.start = time.Now()
	return nil
}

// Toc drains the queues and returns seconds elapsed since Tic.
func (p *Profiler) Toc() (float64, error) {
	if err := p.drain(); err != nil {
		return 0, err
	}
	return time.Since(p.start).Seconds(), nil
}

func (p *Profiler) drain() error {
	for _, q := range p.queues {
		if err := q.Finish(); err != nil {
			return err
		}
	}
	return nil
}
