// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package device

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Constructor creates a Platform from a driver-specific config string, which
// may be empty.
type Constructor func(config string) (Platform, error)

var (
	registryMu      sync.Mutex
	constructors    = make(map[string]Constructor)
	firstRegistered string
)

// Register makes a driver available under name. Call it from the driver
// package's init. Registering the same name twice keeps the first entry.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := constructors[name]; dup {
		klog.Warningf("devec: driver %q already registered, keeping the first one", name)
		return
	}
	if len(constructors) == 0 {
		firstRegistered = name
	}
	constructors[name] = c
}

// Available returns the registered driver names, sorted.
func Available() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnvBackend is the environment variable selecting the default driver,
// formatted "<driver>" or "<driver>:<config>".
const EnvBackend = "DEVEC_BACKEND"

// New opens a platform using DEVEC_BACKEND if set, otherwise the first
// registered driver with an empty config.
func New() (Platform, error) {
	if config, ok := os.LookupEnv(EnvBackend); ok {
		return NewWithConfig(config)
	}
	return NewWithConfig("")
}

// NewWithConfig opens a platform from a "<driver>:<config>" string. A bare
// string without a colon is a driver name with an empty config; an empty
// driver name selects the first registered driver.
func NewWithConfig(config string) (Platform, error) {
	registryMu.Lock()
	name, driverConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		name, driverConfig = config[:idx], config[idx+1:]
	}
	if name == "" {
		name = firstRegistered
	}
	c, ok := constructors[name]
	registryMu.Unlock()

	if len(name) == 0 {
		return nil, errors.New("devec: no drivers registered; import a backend such as backend/sim")
	}
	if !ok {
		return nil, errors.Errorf("devec: unknown driver %q (registered: %s)",
			name, strings.Join(Available(), ", "))
	}
	p, err := c(driverConfig)
	return p, errors.Wrapf(err, "devec: opening driver %q", name)
}

// AllQueues creates one command queue per device of the platform, in device
// order. It is the common way to seed vector construction.
func AllQueues(p Platform) ([]Queue, error) {
	devs, err := p.Devices()
	if err != nil {
		return nil, err
	}
	queues := make([]Queue, 0, len(devs))
	for _, d := range devs {
		q, err := d.NewQueue()
		if err != nil {
			return nil, errors.Wrapf(err, "creating queue on %q", d.Info().Name)
		}
		queues = append(queues, q)
	}
	return queues, nil
}
