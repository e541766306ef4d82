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

package allocator_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devmem/cachealloc/pkg/allocator"
	"github.com/devmem/cachealloc/pkg/device/sim"
)

func TestHandleReleaseOnce(t *testing.T) {
	d := sim.New()
	a := allocator.NewBSAllocator(allocator.NewRawAllocator(d))

	h, err := a.Allocate(1000)
	require.NoError(t, err)
	require.False(t, h.Released())
	require.Contains(t, h.String(), "1000 bytes")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Release()
		}()
	}
	wg.Wait()

	require.True(t, h.Released())
	require.Contains(t, h.String(), "released")
	require.Equal(t, 1, a.Stats().IdleBlocks, "block cached exactly once")
}

func TestNilHandle(t *testing.T) {
	var h *allocator.Handle
	require.NotPanics(t, h.Release)
	require.Equal(t, "<nil handle>", h.String())
}
