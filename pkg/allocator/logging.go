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
	"sort"
	"strings"

	logger "github.com/devmem/cachealloc/pkg/log"
	"github.com/devmem/cachealloc/pkg/utils"
)

var (
	log    = logger.Get("allocator")
	rawlog = logger.Get("raw-alloc")
	bslog  = logger.Get("bs-alloc")
)

// DumpState dumps the state of the allocator as debug messages.
func (a *BSAllocator) DumpState(prefix string) {
	if !bslog.DebugEnabled() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	buckets := make([]int64, 0, len(a.idle))
	for bucket := range a.idle {
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	bslog.Debug("%s%s memory: %d blocks (%s), %d idle (%s), %d pending events",
		prefix, a.raw.Class(), len(a.allocated), utils.PrettySize(a.allocBytes),
		a.idleBlocks, utils.PrettySize(a.idleBytes), len(a.events))

	for _, bucket := range buckets {
		q := a.idle[bucket]
		ptrs := make([]string, 0, q.Length())
		for i := 0; i < q.Length(); i++ {
			ptrs = append(ptrs, q.Get(i).(*block).ptr.String())
		}
		bslog.Debug("%s  - bucket %d: %s", prefix, bucket, strings.Join(ptrs, ","))
	}
}
