//go:build windows

// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu exposes the GPU driver built on go-webgpu. Importing it
// registers the "webgpu" driver with the device registry.
//
// Example:
//
//	p, err := webgpu.New("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Finalize()
package webgpu

import (
	"github.com/devec-ml/devec/device"
	internalwebgpu "github.com/devec-ml/devec/internal/backend/webgpu"
)

// Platform is the WebGPU driver.
type Platform = internalwebgpu.Platform

// Compile-time check that Platform implements device.Platform.
var _ device.Platform = (*Platform)(nil)

// New opens the adapter. The config string selects the power preference:
// empty or "high-performance", or "low-power".
func New(config string) (*Platform, error) {
	return internalwebgpu.New(config)
}

// IsAvailable reports whether a WebGPU adapter can be opened.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
