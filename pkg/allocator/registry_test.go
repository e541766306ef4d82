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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devmem/cachealloc/pkg/allocator"
	"github.com/devmem/cachealloc/pkg/device"
	"github.com/devmem/cachealloc/pkg/device/hostmem"
	"github.com/devmem/cachealloc/pkg/device/sim"
)

func newRegistry(t *testing.T) (*sim.Device, *allocator.Registry) {
	t.Helper()
	d := sim.New()
	r := allocator.NewRegistry()
	require.NoError(t, allocator.RegisterBuiltins(r, allocator.NewRawAllocator(d), 0))
	return d, r
}

func TestRegisterPriority(t *testing.T) {
	raw := allocator.NewRawAllocator(sim.New())
	r := allocator.NewRegistry()

	low := allocator.NewBSAllocator(raw)
	high := allocator.NewBSAllocator(raw)

	require.NoError(t, r.Register(device.ClassDevice, "BS", low, 1))

	err := r.Register(device.ClassDevice, "BS", high, 1)
	require.True(t, errors.Is(err, allocator.ErrPriorityConflict), "equal priority, got %v", err)
	err = r.Register(device.ClassDevice, "BS", high, 0)
	require.True(t, errors.Is(err, allocator.ErrPriorityConflict), "lower priority, got %v", err)

	a, err := r.Resolve(device.ClassDevice, "BS")
	require.NoError(t, err)
	require.Same(t, low, a)

	require.NoError(t, r.Register(device.ClassDevice, "BS", high, 2))
	a, err = r.Resolve(device.ClassDevice, "BS")
	require.NoError(t, err)
	require.Same(t, high, a)

	// classes are independent
	require.NoError(t, r.Register(device.ClassHost, "BS", low, 0))
}

func TestMustRegister(t *testing.T) {
	raw := allocator.NewRawAllocator(sim.New())
	r := allocator.NewRegistry()

	r.MustRegister(device.ClassDevice, "RAW", allocator.NewRawPolicy(raw), 3)
	require.Panics(t, func() {
		r.MustRegister(device.ClassDevice, "RAW", allocator.NewRawPolicy(raw), 3)
	})
}

func TestRegisterNil(t *testing.T) {
	r := allocator.NewRegistry()
	err := r.Register(device.ClassDevice, "BS", nil, 0)
	require.True(t, errors.Is(err, allocator.ErrNilAllocator), "got %v", err)
}

func TestResolveUnknown(t *testing.T) {
	_, r := newRegistry(t)

	_, err := r.Resolve(device.ClassDevice, "XX")
	require.True(t, errors.Is(err, allocator.ErrUnknownPolicy), "got %v", err)
	_, err = r.Resolve(device.ClassHost, "BS")
	require.True(t, errors.Is(err, allocator.ErrUnknownPolicy), "got %v", err)

	r.SetAlgorithm(device.ClassDevice, "XX")
	_, err = r.Allocate(device.ClassDevice, 100)
	require.True(t, errors.Is(err, allocator.ErrUnknownPolicy), "got %v", err)
	require.True(t, errors.Is(r.Trim(device.ClassDevice), allocator.ErrUnknownPolicy))
	require.True(t, errors.Is(r.ReleaseAll(device.ClassDevice), allocator.ErrUnknownPolicy))
}

func TestAlgorithmSelection(t *testing.T) {
	d, r := newRegistry(t)

	require.Equal(t, "BS", r.Algorithm(device.ClassDevice), "default policy")
	a, err := r.Get(device.ClassDevice)
	require.NoError(t, err)
	require.Equal(t, "BS", a.Name())

	r.SetAlgorithm(device.ClassDevice, "RAW")
	a, err = r.Get(device.ClassDevice)
	require.NoError(t, err)
	require.Equal(t, "RAW", a.Name())
	require.NotNil(t, a.RawAllocator())

	h, err := r.Allocate(device.ClassDevice, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), d.Used(), "no rounding without caching")
	h.Release()
	require.Equal(t, 0, d.Live(), "released memory freed")

	r.SetAlgorithm(device.ClassDevice, "")
	require.Equal(t, "BS", r.Algorithm(device.ClassDevice))
}

func TestTrimAndReleaseAll(t *testing.T) {
	d, r := newRegistry(t)

	h1, err := r.Allocate(device.ClassDevice, 1000)
	require.NoError(t, err)
	h2, err := r.Allocate(device.ClassDevice, 1000)
	require.NoError(t, err)

	h1.Release()
	require.NoError(t, r.Trim(device.ClassDevice))
	require.Equal(t, 1, d.Live())

	require.NoError(t, r.ReleaseAll(device.ClassDevice))
	require.Equal(t, 0, d.Live())

	h2.Release()
	require.Equal(t, int64(2), d.Frees())
}

func TestTrimWithoutCacheIsNoop(t *testing.T) {
	d, r := newRegistry(t)
	r.SetAlgorithm(device.ClassDevice, "RAW")

	h, err := r.Allocate(device.ClassDevice, 1000)
	require.NoError(t, err)

	require.NoError(t, r.Trim(device.ClassDevice))
	require.NoError(t, r.ReleaseAll(device.ClassDevice))
	require.True(t, d.IsLive(h.Ptr()), "memory in use untouched")

	h.Release()
}

func TestEntries(t *testing.T) {
	r := allocator.NewRegistry()
	require.NoError(t, allocator.RegisterBuiltins(r, allocator.NewRawAllocator(hostmem.New()), 0))
	require.NoError(t, allocator.RegisterBuiltins(r, allocator.NewRawAllocator(sim.New()), 0))

	var names []string
	for _, e := range r.Entries() {
		names = append(names, string(e.Class)+"/"+e.Name)
	}
	require.Equal(t, []string{"device/BS", "device/RAW", "host/BS", "host/RAW"}, names)
	require.Equal(t, []device.Class{device.ClassDevice, device.ClassHost}, r.Classes())
}

func TestShutdown(t *testing.T) {
	d, r := newRegistry(t)

	_, err := r.Allocate(device.ClassDevice, 1000)
	require.NoError(t, err)
	h, err := r.Allocate(device.ClassDevice, 3000)
	require.NoError(t, err)
	h.Release()

	r.SetAlgorithm(device.ClassHost, "RAW")

	require.NoError(t, r.Shutdown())
	require.Equal(t, 0, d.Live(), "cached and in-use memory released")
	require.Empty(t, r.Entries())
	require.Equal(t, allocator.DefaultPolicy, r.Algorithm(device.ClassHost))
}

func TestShutdownReportsLeaks(t *testing.T) {
	d, r := newRegistry(t)
	r.SetAlgorithm(device.ClassDevice, "RAW")

	h, err := r.Allocate(device.ClassDevice, 1000)
	require.NoError(t, err)

	err = r.Shutdown()
	require.Error(t, err)
	require.True(t, errors.Is(err, allocator.ErrLeak), "got %v", err)
	require.True(t, d.IsLive(h.Ptr()))

	h.Release()
	require.Equal(t, 0, d.Live())
}
