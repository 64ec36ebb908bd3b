//go:build !windows

// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package webgpu

import "github.com/devec-ml/devec/device"

// New reports that the wgpu native bindings are not built on this platform.
func New(config string) (device.Platform, error) {
	return nil, device.Errorf("webgpu.New", device.Unsupported,
		"webgpu driver is only built on windows")
}

// IsAvailable reports whether a WebGPU adapter can be opened.
func IsAvailable() bool { return false }
