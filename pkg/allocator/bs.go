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
	"context"
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/devmem/cachealloc/pkg/device"
	"github.com/devmem/cachealloc/pkg/event"
	"github.com/devmem/cachealloc/pkg/instrumentation/tracing"
)

const (
	// DefaultAlignment is the default size granularity of buckets.
	DefaultAlignment = 512
	// DefaultEventCompactionThreshold is the default number of pending
	// events above which completed events are dropped.
	DefaultEventCompactionThreshold = 64
)

// BSAllocator is the bucketed block cache policy. Released blocks are kept
// per bucket in release order and reused once the work issued before their
// release has completed.
type BSAllocator struct {
	mu         sync.Mutex
	raw        *RawAllocator
	alignment  int64
	compactAt  int
	idle       map[int64]*queue.Queue // idle blocks per bucket, oldest first
	allocated  map[device.Ptr]*block  // all blocks, in use or idle
	events     map[device.Ptr]*event.Event
	idleBlocks int
	idleBytes  int64
	allocBytes int64

	hits        int64
	misses      int64
	skips       int64
	compactions int64
	trimmed     int64
}

// block is a physical allocation owned by BSAllocator.
type block struct {
	ptr    device.Ptr
	bucket int64
}

// BSStats are the counters of a BSAllocator.
type BSStats struct {
	// IdleBlocks is the number of cached blocks.
	IdleBlocks int
	// TotalBlocks is the number of blocks, in use or cached.
	TotalBlocks int
	// Buckets is the number of non-empty buckets.
	Buckets int
	// PendingEvents is the number of events being tracked.
	PendingEvents int
	// Hits is the number of allocations served from the cache.
	Hits int64
	// Misses is the number of allocations served by the device.
	Misses int64
	// Skips is the number of cached blocks passed over as still in use.
	Skips int64
	// Compactions is the number of times completed events were dropped.
	Compactions int64
	// TrimmedBlocks is the number of cached blocks returned to the device.
	TrimmedBlocks int64
	// IdleBytes is the amount of cached memory.
	IdleBytes int64
	// AllocatedBytes is the amount of memory in all blocks.
	AllocatedBytes int64
}

// BSOption is an option for BSAllocator.
type BSOption func(*BSAllocator)

// WithAlignment sets the size granularity of buckets. Non-positive values
// are ignored.
func WithAlignment(n int64) BSOption {
	return func(a *BSAllocator) {
		if n > 0 {
			a.alignment = n
		}
	}
}

// WithEventCompactionThreshold sets the number of tracked events above
// which completed ones are dropped. Negative values are ignored.
func WithEventCompactionThreshold(n int) BSOption {
	return func(a *BSAllocator) {
		if n >= 0 {
			a.compactAt = n
		}
	}
}

// NewBSAllocator creates a bucketed block cache on top of a raw allocator.
func NewBSAllocator(raw *RawAllocator, options ...BSOption) *BSAllocator {
	a := &BSAllocator{
		raw:       raw,
		alignment: DefaultAlignment,
		compactAt: DefaultEventCompactionThreshold,
		idle:      make(map[int64]*queue.Queue),
		allocated: make(map[device.Ptr]*block),
		events:    make(map[device.Ptr]*event.Event),
	}

	for _, o := range options {
		o(a)
	}

	return a
}

func (a *BSAllocator) Name() string {
	return BSPolicy
}

func (a *BSAllocator) RawAllocator() *RawAllocator {
	return a.raw
}

// Alignment returns the size granularity of buckets.
func (a *BSAllocator) Alignment() int64 {
	return a.alignment
}

// BucketSize returns the bucket a request of size bytes is served from.
func (a *BSAllocator) BucketSize(size int64) int64 {
	if size <= 0 {
		return a.alignment
	}
	return (size + a.alignment - 1) / a.alignment * a.alignment
}

// Allocate returns a block of at least size bytes. A cached block is used
// if the work issued before it was released has completed. Otherwise the
// memory is allocated from the device. Allocate never waits for the device
// to complete any work.
func (a *BSAllocator) Allocate(size int64) (*Handle, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	bucket := a.BucketSize(size)

	a.mu.Lock()
	b := a.reuse(bucket)
	a.mu.Unlock()

	if b == nil {
		ptr, err := a.raw.RawAllocate(bucket)
		if err != nil {
			return nil, err
		}

		b = &block{ptr: ptr, bucket: bucket}

		a.mu.Lock()
		a.allocated[ptr] = b
		a.allocBytes += bucket
		a.misses++
		a.mu.Unlock()

		bslog.Debug("allocate %d bytes (requested %d) of %s memory, ptr %s",
			bucket, size, a.raw.Class(), ptr)
	}

	return newHandle(b.ptr, size, func() { a.restore(b) }), nil
}

// reuse takes a reusable block out of the bucket. Every block idle at the
// start is looked at most once. The caller must hold the lock.
func (a *BSAllocator) reuse(bucket int64) *block {
	q, ok := a.idle[bucket]
	if !ok {
		return nil
	}

	for i, cnt := 0, q.Length(); i < cnt; i++ {
		b := q.Remove().(*block)

		ev, pending := a.events[b.ptr]
		if pending && !ev.Query() {
			q.Add(b)
			a.skips++
			continue
		}
		if pending {
			delete(a.events, b.ptr)
		}

		if q.Length() == 0 {
			delete(a.idle, bucket)
		}

		a.idleBlocks--
		a.idleBytes -= bucket
		a.hits++

		bslog.Debug("reuse %d bytes of %s memory, ptr %s", bucket, a.raw.Class(), b.ptr)

		if len(a.events) > a.compactAt {
			a.compactEvents()
		}

		return b
	}

	return nil
}

// restore puts a released block back to its bucket, recording the point in
// the current stream the block can be reused after.
func (a *BSAllocator) restore(b *block) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.allocated[b.ptr] != b {
		log.Warn("%s memory: ignoring release of freed block %s", a.raw.Class(), b.ptr)
		return
	}

	ev, ok := a.events[b.ptr]
	if !ok {
		ev = event.New(a.raw)
		a.events[b.ptr] = ev
	}
	ev.Record()

	q, ok := a.idle[b.bucket]
	if !ok {
		q = queue.New()
		a.idle[b.bucket] = q
	}
	q.Add(b)

	a.idleBlocks++
	a.idleBytes += b.bucket

	bslog.Debug("restore %d bytes of %s memory, ptr %s", b.bucket, a.raw.Class(), b.ptr)
}

// compactEvents drops all completed events. The caller must hold the lock.
func (a *BSAllocator) compactEvents() {
	dropped := 0
	for ptr, ev := range a.events {
		if ev.Query() {
			delete(a.events, ptr)
			dropped++
		}
	}
	a.compactions++

	bslog.Debug("dropped %d completed events, %d pending", dropped, len(a.events))
}

// EmptyCache returns all cached blocks to the device, waiting for the work
// issued before their release to complete.
func (a *BSAllocator) EmptyCache() {
	_, span := tracing.StartSpan(context.Background(), "BSAllocator.EmptyCache",
		tracing.WithAttributes(tracing.Attribute("class", a.raw.Class())))
	defer span.End()

	a.mu.Lock()
	cnt, size := a.emptyCache()
	a.mu.Unlock()

	span.SetAttributes(
		tracing.Attribute("blocks", cnt),
		tracing.Attribute("bytes", size),
	)

	a.DumpState("after trim: ")
}

// emptyCache frees all idle blocks. The caller must hold the lock.
func (a *BSAllocator) emptyCache() (int, int64) {
	var (
		cnt  int
		size int64
	)

	for bucket, q := range a.idle {
		for q.Length() > 0 {
			b := q.Remove().(*block)
			a.free(b)
			cnt++
			size += bucket
		}
		delete(a.idle, bucket)
	}

	a.idleBlocks = 0
	a.idleBytes = 0
	a.trimmed += int64(cnt)

	if cnt > 0 {
		bslog.Debug("trimmed %d blocks (%d bytes) of %s memory", cnt, size, a.raw.Class())
	}

	return cnt, size
}

// free waits for the pending event of a block then returns the block to
// the device. The caller must hold the lock.
func (a *BSAllocator) free(b *block) {
	if ev, ok := a.events[b.ptr]; ok {
		ev.Synchronize()
		delete(a.events, b.ptr)
	}
	delete(a.allocated, b.ptr)
	a.allocBytes -= b.bucket
	a.raw.RawDeallocate(b.ptr)
}

// ReleaseAllMemory returns all blocks, cached or in use, to the device.
// Handles still in use become stale. Releasing them is logged and has no
// other effect.
func (a *BSAllocator) ReleaseAllMemory() {
	_, span := tracing.StartSpan(context.Background(), "BSAllocator.ReleaseAllMemory",
		tracing.WithAttributes(tracing.Attribute("class", a.raw.Class())))
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	cached, _ := a.emptyCache()

	inuse := 0
	for _, b := range a.allocated {
		a.free(b)
		inuse++
	}

	if inuse > 0 {
		log.Warn("%s memory: released %d blocks still in use", a.raw.Class(), inuse)
	}

	span.SetAttributes(
		tracing.Attribute("cached", cached),
		tracing.Attribute("inuse", inuse),
	)
}

// Stats returns the current counters of the allocator.
func (a *BSAllocator) Stats() BSStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return BSStats{
		IdleBlocks:     a.idleBlocks,
		TotalBlocks:    len(a.allocated),
		Buckets:        len(a.idle),
		PendingEvents:  len(a.events),
		Hits:           a.hits,
		Misses:         a.misses,
		Skips:          a.skips,
		Compactions:    a.compactions,
		TrimmedBlocks:  a.trimmed,
		IdleBytes:      a.idleBytes,
		AllocatedBytes: a.allocBytes,
	}
}
