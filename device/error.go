// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package device

import "fmt"

// Status categorizes low-level device operation failures.
type Status int

const (
	Success Status = iota
	OutOfResources
	OutOfHostMemory
	InvalidValue
	InvalidBufferSize
	InvalidQueue
	InvalidContext
	InvalidKernelArgs
	Unsupported
	BuildFailure
)

// String renders the status the way a human wants to read it in a log line.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case OutOfResources:
		return "out of resources"
	case OutOfHostMemory:
		return "out of host memory"
	case InvalidValue:
		return "invalid value"
	case InvalidBufferSize:
		return "invalid buffer size"
	case InvalidQueue:
		return "invalid command queue"
	case InvalidContext:
		return "invalid context"
	case InvalidKernelArgs:
		return "invalid kernel arguments"
	case Unsupported:
		return "unsupported operation"
	case BuildFailure:
		return "program build failure"
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// Error is a categorized device operation failure. Every transfer or enqueue
// error surfaces as one of these, fatal to the operation in progress; the
// library never retries.
type Error struct {
	Op     string // driver operation, e.g. "sim.EnqueueWrite"
	Status Status
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Status, e.Detail)
}

// Errorf builds an *Error with a formatted detail string.
func Errorf(op string, status Status, format string, args ...any) *Error {
	return &Error{Op: op, Status: status, Detail: fmt.Sprintf(format, args...)}
}

// BuildError reports a kernel source that failed to compile. Log holds the
// compiler diagnostic for the first device of the context; Source is the
// rejected kernel source.
type BuildError struct {
	Log    string
	Source string
}

func (e *BuildError) Error() string {
	return "kernel build failed:\n" + e.Log
}
