// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package device defines the narrow interface the allocators use to reach
// the hardware: physical allocation and free, and the stream and event
// primitives used to track asynchronous work.
package device

import (
	"errors"
	"fmt"
)

// Ptr is an opaque device memory address.
type Ptr uintptr

// String returns the address in hex.
func (p Ptr) String() string {
	return fmt.Sprintf("%#x", uintptr(p))
}

// Class identifies the kind of memory an allocator serves.
type Class string

const (
	// ClassDevice is accelerator memory.
	ClassDevice Class = "device"
	// ClassHost is host memory used for staging transfers.
	ClassHost Class = "host"
)

var (
	// ErrOutOfMemory is returned by Runtime.Malloc when the device cannot
	// satisfy an allocation.
	ErrOutOfMemory = errors.New("device: out of memory")
	// ErrInvalidPtr is returned by Runtime.Free for unknown addresses.
	ErrInvalidPtr = errors.New("device: invalid pointer")
)

// Event is a point in a stream recorded by Stream.Record.
type Event interface {
	// Query checks without blocking whether the point has been reached.
	Query() bool
	// Synchronize blocks until the point has been reached.
	Synchronize()
}

// Stream is a linear sequence of asynchronous work on a device.
type Stream interface {
	// Record returns an event covering all work issued on the stream so far.
	Record() Event
}

// Runtime is the set of raw device primitives.
type Runtime interface {
	// Class returns the class of memory this runtime allocates.
	Class() Class
	// Malloc allocates size bytes of physical memory.
	Malloc(size int64) (Ptr, error)
	// Free releases memory allocated by Malloc.
	Free(Ptr) error
	// CurrentStream returns the stream work is currently issued on.
	CurrentStream() Stream
}
