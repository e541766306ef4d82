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

// Package sim implements a simulated accelerator runtime. Memory is never
// backed by real storage: addresses come from a private address space and
// only capacity is accounted. Streams track issued and completed work with
// sequence numbers so tests and tools can control exactly when recorded
// events complete.
package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devmem/cachealloc/pkg/device"
	logger "github.com/devmem/cachealloc/pkg/log"
)

const (
	// baseAddress is the first address handed out by a Device.
	baseAddress = 0x7f0000000000
	// addressAlignment is the alignment of all addresses handed out.
	addressAlignment = 256
)

var log = logger.Get("sim")

// Device is a simulated accelerator.
type Device struct {
	mu       sync.Mutex
	class    device.Class
	capacity int64
	used     int64
	next     uintptr
	live     map[device.Ptr]int64
	streams  []*Stream
	current  int

	drainOnSync bool
	mallocs     atomic.Int64
	frees       atomic.Int64
	syncs       atomic.Int64
}

// Option is an option for a simulated Device.
type Option func(*Device)

// WithCapacity limits the amount of memory the device can hand out. Zero
// means unlimited.
func WithCapacity(capacity int64) Option {
	return func(d *Device) {
		d.capacity = capacity
	}
}

// WithStreams sets the number of streams on the device.
func WithStreams(count int) Option {
	return func(d *Device) {
		if count < 1 {
			count = 1
		}
		d.streams = d.streams[:0]
		for i := 0; i < count; i++ {
			d.streams = append(d.streams, newStream(d, i))
		}
	}
}

// WithClass sets the memory class the device reports.
func WithClass(class device.Class) Option {
	return func(d *Device) {
		d.class = class
	}
}

// WithoutDrainOnSync makes Synchronize wait for someone else to complete
// the work instead of completing it itself.
func WithoutDrainOnSync() Option {
	return func(d *Device) {
		d.drainOnSync = false
	}
}

// New creates a simulated device with the given options.
func New(options ...Option) *Device {
	d := &Device{
		class:       device.ClassDevice,
		next:        baseAddress,
		live:        make(map[device.Ptr]int64),
		drainOnSync: true,
	}
	d.streams = []*Stream{newStream(d, 0)}

	for _, o := range options {
		o(d)
	}

	return d
}

var _ device.Runtime = &Device{}

// Class implements device.Runtime.
func (d *Device) Class() device.Class {
	return d.class
}

// Malloc implements device.Runtime.
func (d *Device) Malloc(size int64) (device.Ptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("sim: invalid allocation size %d", size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capacity > 0 && d.used+size > d.capacity {
		return 0, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			device.ErrOutOfMemory, size, d.used, d.capacity)
	}

	ptr := device.Ptr(d.next)
	span := (uintptr(size) + addressAlignment - 1) &^ (addressAlignment - 1)
	if span == 0 {
		span = addressAlignment
	}
	d.next += span
	d.used += size
	d.live[ptr] = size
	d.mallocs.Add(1)

	return ptr, nil
}

// Free implements device.Runtime.
func (d *Device) Free(ptr device.Ptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, ok := d.live[ptr]
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrInvalidPtr, ptr)
	}

	delete(d.live, ptr)
	d.used -= size
	d.frees.Add(1)

	return nil
}

// CurrentStream implements device.Runtime.
func (d *Device) CurrentStream() device.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[d.current]
}

// Stream returns the stream with the given index.
func (d *Device) Stream(idx int) *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[idx]
}

// Streams returns all streams of the device.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream{}, d.streams...)
}

// SetCurrentStream selects the stream subsequent work is issued on.
func (d *Device) SetCurrentStream(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.streams) {
		log.Panic("stream index %d out of range [0, %d)", idx, len(d.streams))
	}
	d.current = idx
}

// Used returns the number of bytes currently allocated.
func (d *Device) Used() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// Live returns the number of live allocations.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// IsLive checks if the given address is currently allocated.
func (d *Device) IsLive(ptr device.Ptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[ptr]
	return ok
}

// Mallocs returns the number of successful physical allocations.
func (d *Device) Mallocs() int64 {
	return d.mallocs.Load()
}

// Frees returns the number of successful physical frees.
func (d *Device) Frees() int64 {
	return d.frees.Load()
}

// Syncs returns the number of Synchronize calls made on events of the device.
func (d *Device) Syncs() int64 {
	return d.syncs.Load()
}

// CompleteAll completes all issued work on all streams.
func (d *Device) CompleteAll() {
	for _, s := range d.Streams() {
		s.CompleteAll()
	}
}

// Run executes issued work in the background, completing one unit of work
// per stream every interval, until the context is canceled.
func (d *Device) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range d.Streams() {
				s.Complete(1)
			}
		}
	}
}
