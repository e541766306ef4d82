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

// Package allocator implements caching allocators for device memory used
// by asynchronous accelerator pipelines, and a registry for selecting the
// active allocator for a class of memory.
//
// # Raw Allocator
//
// RawAllocator is the only part of the package that talks to the device. It
// performs unconditional physical allocation and free through a
// device.Runtime and keeps track of every live physical allocation, so that
// frees of unknown addresses and leaks at teardown can be detected.
//
// # Policies
//
// A policy is a CacheAllocator. Allocate returns a Handle which owns the
// allocated block until Handle.Release hands it back to the policy. What the
// policy does with a released block is up to the policy.
//
// The "RAW" policy never caches: releasing a handle frees the memory.
//
// The "BS" policy caches blocks in buckets of a fixed size granularity.
// Releasing a handle records an event on the current stream and puts the
// block at the tail of its bucket. Allocation scans the bucket once, from
// the head, for a block whose event has completed, which means any
// asynchronous work issued before the block was released is done with it.
// If there is none, memory is allocated from the device instead. Allocation
// never waits for the device. Cached blocks are only returned to the device
// by EmptyCache, which waits for their events, or by ReleaseAllMemory at
// teardown.
//
// Policies may implement the CacheTrimmer and MemoryReleaser interfaces.
// The registry checks for these capabilities when asked to trim caches or
// release memory.
//
// # Registry
//
// Registry maps a class of memory and a policy name to a policy instance and
// priority. A policy can only be replaced by registering another one with
// the same name with higher priority. The active policy for a class is
// chosen by name, which defaults to "BS". A process-wide registry is set up
// with Init and torn down with Shutdown.
package allocator
