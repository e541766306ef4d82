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

// Package hostmem implements a device.Runtime for host memory. Allocations
// are anonymous memory mappings, so freed memory goes straight back to the
// operating system. Host work is synchronous, so every event recorded on the
// host stream is complete.
package hostmem

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/devmem/cachealloc/pkg/device"
)

// Memory is the host memory runtime.
type Memory struct {
	mu   sync.Mutex
	live map[device.Ptr][]byte
	used int64
}

type hostStream struct{}

type hostEvent struct{}

// New creates a host memory runtime.
func New() *Memory {
	return &Memory{
		live: make(map[device.Ptr][]byte),
	}
}

var _ device.Runtime = &Memory{}

// Class implements device.Runtime.
func (m *Memory) Class() device.Class {
	return device.ClassHost
}

// Malloc implements device.Runtime. Zero-sized requests map one page, so
// every allocation has a distinct address.
func (m *Memory) Malloc(size int64) (device.Ptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("hostmem: invalid allocation size %d", size)
	}
	if size > int64(^uint(0)>>1) {
		return 0, fmt.Errorf("%w: %d bytes", device.ErrOutOfMemory, size)
	}

	length := int(size)
	if length == 0 {
		length = os.Getpagesize()
	}

	buf, err := mapMemory(length)
	if err != nil {
		return 0, fmt.Errorf("%w: %d bytes: %v", device.ErrOutOfMemory, size, err)
	}

	ptr := device.Ptr(unsafe.Pointer(&buf[0]))

	m.mu.Lock()
	m.live[ptr] = buf
	m.used += int64(len(buf))
	m.mu.Unlock()

	return ptr, nil
}

// Free implements device.Runtime.
func (m *Memory) Free(ptr device.Ptr) error {
	m.mu.Lock()
	buf, ok := m.live[ptr]
	if ok {
		delete(m.live, ptr)
		m.used -= int64(len(buf))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", device.ErrInvalidPtr, ptr)
	}

	return unmapMemory(buf)
}

// CurrentStream implements device.Runtime.
func (m *Memory) CurrentStream() device.Stream {
	return hostStream{}
}

// Bytes returns the memory allocated at the given address, or nil if there
// is no such allocation.
func (m *Memory) Bytes(ptr device.Ptr) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[ptr]
}

// Used returns the number of bytes currently mapped.
func (m *Memory) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (hostStream) Record() device.Event {
	return hostEvent{}
}

func (hostEvent) Query() bool {
	return true
}

func (hostEvent) Synchronize() {}
