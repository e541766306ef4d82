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

package hostmem_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devmem/cachealloc/pkg/device"
	"github.com/devmem/cachealloc/pkg/device/hostmem"
)

func TestMallocFree(t *testing.T) {
	m := hostmem.New()
	require.Equal(t, device.ClassHost, m.Class())

	ptr, err := m.Malloc(4096)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	require.Equal(t, int64(4096), m.Used())

	buf := m.Bytes(ptr)
	require.Len(t, buf, 4096)
	buf[0], buf[4095] = 0xde, 0xad
	require.Equal(t, byte(0xad), m.Bytes(ptr)[4095])

	require.NoError(t, m.Free(ptr))
	require.Nil(t, m.Bytes(ptr))
	require.Equal(t, int64(0), m.Used())
	require.True(t, errors.Is(m.Free(ptr), device.ErrInvalidPtr))
}

func TestInvalidSize(t *testing.T) {
	m := hostmem.New()
	_, err := m.Malloc(-1)
	require.Error(t, err)
	require.False(t, errors.Is(err, device.ErrOutOfMemory))
	require.Zero(t, m.Used())
}

func TestZeroSizedMalloc(t *testing.T) {
	m := hostmem.New()

	p1, err := m.Malloc(0)
	require.NoError(t, err)
	p2, err := m.Malloc(0)
	require.NoError(t, err)
	require.NotEqual(t, p1, p2, "zero-sized allocations are distinct")
	require.Equal(t, int64(2*os.Getpagesize()), m.Used())

	require.NoError(t, m.Free(p1))
	require.NoError(t, m.Free(p2))
	require.Zero(t, m.Used())
}

func TestHostEventsAreComplete(t *testing.T) {
	m := hostmem.New()
	e := m.CurrentStream().Record()
	require.True(t, e.Query())
	e.Synchronize()
}
