// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sim exposes the in-process simulated driver. It runs the complete
// pipeline, generated kernels included, on any machine, which makes it the
// backend of choice for tests and for development without a GPU.
//
// Example:
//
//	p, err := sim.New("gpu,cpu")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Finalize()
package sim

import (
	"github.com/devec-ml/devec/device"
	internalsim "github.com/devec-ml/devec/internal/backend/sim"
)

// Platform is the simulated driver.
type Platform = internalsim.Platform

// Compile-time check that Platform implements device.Platform.
var _ device.Platform = (*Platform)(nil)

// New opens a simulated platform. The config string is a comma-separated
// device roster of "gpu" and "cpu" entries; empty means "gpu,cpu".
func New(config string) (*Platform, error) {
	return internalsim.New(config)
}
