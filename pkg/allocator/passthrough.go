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

// RawPolicy is the policy which does no caching. Releasing memory
// allocated by it returns the memory to the device.
type RawPolicy struct {
	raw *RawAllocator
}

// NewRawPolicy creates an uncached policy on top of the raw allocator.
func NewRawPolicy(raw *RawAllocator) *RawPolicy {
	return &RawPolicy{raw: raw}
}

func (p *RawPolicy) Name() string {
	return RawPolicyName
}

func (p *RawPolicy) Allocate(size int64) (*Handle, error) {
	return p.raw.Allocate(size)
}

func (p *RawPolicy) RawAllocator() *RawAllocator {
	return p.raw
}
