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
	"fmt"
	"sync/atomic"

	"github.com/devmem/cachealloc/pkg/device"
)

// Handle owns an allocated block of memory. The owner must call Release
// once it no longer uses the memory, which hands the block back to the
// allocator it came from. Release must not be called while work using the
// memory is being issued.
type Handle struct {
	ptr      device.Ptr
	size     int64
	release  func()
	released atomic.Bool
}

func newHandle(ptr device.Ptr, size int64, release func()) *Handle {
	return &Handle{
		ptr:     ptr,
		size:    size,
		release: release,
	}
}

// Ptr returns the address of the memory.
func (h *Handle) Ptr() device.Ptr {
	return h.ptr
}

// Size returns the number of bytes requested for the allocation.
func (h *Handle) Size() int64 {
	return h.size
}

// Release hands the memory back to its allocator. Only the first call has
// any effect.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.release()
}

// Released returns true if the handle has been released.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// String returns a string representation of the handle.
func (h *Handle) String() string {
	if h == nil {
		return "<nil handle>"
	}
	state := ""
	if h.Released() {
		state = ", released"
	}
	return fmt.Sprintf("<handle %s, %d bytes%s>", h.ptr, h.size, state)
}
