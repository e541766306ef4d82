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

const (
	// BSPolicy is the name of the bucketed block cache policy.
	BSPolicy = "BS"
	// RawPolicyName is the name of the uncached pass-through policy.
	RawPolicyName = "RAW"
	// DefaultPolicy is the policy used when none is configured.
	DefaultPolicy = BSPolicy
)

// CacheAllocator is the interface implemented by allocator policies.
type CacheAllocator interface {
	// Name returns the name of the policy.
	Name() string
	// Allocate allocates at least size bytes of memory.
	Allocate(size int64) (*Handle, error)
	// RawAllocator returns the raw allocator the policy allocates from.
	RawAllocator() *RawAllocator
}

// CacheTrimmer is implemented by policies which can drop cached memory.
type CacheTrimmer interface {
	// EmptyCache returns all cached memory to the device.
	EmptyCache()
}

// MemoryReleaser is implemented by policies which can release all memory
// they have allocated.
type MemoryReleaser interface {
	// ReleaseAllMemory returns all memory, cached or not, to the device.
	ReleaseAllMemory()
}

// CreateFn creates a policy instance on top of a raw allocator.
type CreateFn func(*RawAllocator) CacheAllocator

// Builtins returns the creation functions of the builtin policies.
func Builtins(bsOpts ...BSOption) map[string]CreateFn {
	return map[string]CreateFn{
		BSPolicy: func(raw *RawAllocator) CacheAllocator {
			return NewBSAllocator(raw, bsOpts...)
		},
		RawPolicyName: func(raw *RawAllocator) CacheAllocator {
			return NewRawPolicy(raw)
		},
	}
}

// RegisterBuiltins registers an instance of every builtin policy on top of
// the given raw allocator, for the raw allocator's class of memory.
func RegisterBuiltins(r *Registry, raw *RawAllocator, priority uint8, bsOpts ...BSOption) error {
	for name, create := range Builtins(bsOpts...) {
		if err := r.Register(raw.Class(), name, create(raw), priority); err != nil {
			return err
		}
	}
	return nil
}
