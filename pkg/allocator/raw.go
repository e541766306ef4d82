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

package allocator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/devmem/cachealloc/pkg/device"
	"github.com/devmem/cachealloc/pkg/utils"
)

// RawAllocator performs physical allocation and free of device memory. It
// does no caching. Calls to the device are serialized. Every live physical
// allocation is tracked, which lets RawDeallocate reject addresses it did
// not hand out and CheckLeaks report memory never given back.
type RawAllocator struct {
	mu       sync.Mutex
	rt       device.Runtime
	live     map[device.Ptr]int64
	used     int64
	peak     int64
	mallocs  int64
	frees    int64
	failures int64
	invalid  int64
}

// RawStats are the counters of a RawAllocator.
type RawStats struct {
	// Mallocs is the number of successful physical allocations.
	Mallocs int64
	// Frees is the number of physical frees.
	Frees int64
	// Failures is the number of failed physical allocations.
	Failures int64
	// InvalidFrees is the number of rejected frees of unknown addresses.
	InvalidFrees int64
	// LiveBlocks is the number of live physical allocations.
	LiveBlocks int
	// LiveBytes is the amount of memory physically allocated.
	LiveBytes int64
	// PeakBytes is the highest LiveBytes has been.
	PeakBytes int64
}

// NewRawAllocator creates a raw allocator for the given device runtime.
func NewRawAllocator(rt device.Runtime) *RawAllocator {
	return &RawAllocator{
		rt:   rt,
		live: make(map[device.Ptr]int64),
	}
}

// Class returns the class of memory the allocator hands out.
func (r *RawAllocator) Class() device.Class {
	return r.rt.Class()
}

// Runtime returns the device runtime of the allocator.
func (r *RawAllocator) Runtime() device.Runtime {
	return r.rt
}

// CurrentStream returns the stream device work is currently issued on.
func (r *RawAllocator) CurrentStream() device.Stream {
	return r.rt.CurrentStream()
}

// RawAllocate allocates size bytes of physical memory.
func (r *RawAllocator) RawAllocate(size int64) (device.Ptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ptr, err := r.rt.Malloc(size)
	if err != nil {
		r.failures++
		if errors.Is(err, device.ErrOutOfMemory) {
			return 0, fmt.Errorf("%w: %s memory, %d bytes: %w", ErrNoMem, r.rt.Class(), size, err)
		}
		return 0, allocatorError("failed to allocate %d bytes of %s memory: %w",
			size, r.rt.Class(), err)
	}

	if _, ok := r.live[ptr]; ok {
		log.Error("%s memory: device returned live address %s", r.rt.Class(), ptr)
	}

	r.live[ptr] = size
	r.used += size
	if r.used > r.peak {
		r.peak = r.used
	}
	r.mallocs++

	rawlog.Debug("malloc %d bytes of %s memory, ptr %s", size, r.rt.Class(), ptr)

	return ptr, nil
}

// RawDeallocate frees physical memory allocated by RawAllocate. Addresses
// which are not live are logged and otherwise ignored.
func (r *RawAllocator) RawDeallocate(ptr device.Ptr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size, ok := r.live[ptr]
	if !ok {
		r.invalid++
		log.Error("%s memory: ignoring free of unknown address %s", r.rt.Class(), ptr)
		return
	}

	rawlog.Debug("free %s memory, ptr %s (%d bytes)", r.rt.Class(), ptr, size)

	delete(r.live, ptr)
	r.used -= size
	r.frees++

	if err := r.rt.Free(ptr); err != nil {
		log.Error("%s memory: failed to free %s: %v", r.rt.Class(), ptr, err)
	}
}

// Allocate allocates memory which is freed when the returned handle is
// released.
func (r *RawAllocator) Allocate(size int64) (*Handle, error) {
	ptr, err := r.RawAllocate(size)
	if err != nil {
		return nil, err
	}
	return newHandle(ptr, size, func() { r.RawDeallocate(ptr) }), nil
}

// Stats returns the current counters of the allocator.
func (r *RawAllocator) Stats() RawStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RawStats{
		Mallocs:      r.mallocs,
		Frees:        r.frees,
		Failures:     r.failures,
		InvalidFrees: r.invalid,
		LiveBlocks:   len(r.live),
		LiveBytes:    r.used,
		PeakBytes:    r.peak,
	}
}

// IsLive returns true if the given address is physically allocated.
func (r *RawAllocator) IsLive(ptr device.Ptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[ptr]
	return ok
}

// CheckLeaks returns an error describing live allocations, if there are any.
func (r *RawAllocator) CheckLeaks() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.live) == 0 {
		return nil
	}

	ptrs := make([]device.Ptr, 0, len(r.live))
	for ptr := range r.live {
		ptrs = append(ptrs, ptr)
	}
	sort.Slice(ptrs, func(i, j int) bool { return ptrs[i] < ptrs[j] })

	for _, ptr := range ptrs {
		log.Warn("%s memory: leaked %s (%d bytes)", r.rt.Class(), ptr, r.live[ptr])
	}

	return fmt.Errorf("%w: %d blocks, %s of %s memory", ErrLeak, len(r.live),
		utils.PrettySize(r.used), r.rt.Class())
}
