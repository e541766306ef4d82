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

package main

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devmem/cachealloc/pkg/allocator"
	cfgapi "github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/allocator"
	"github.com/devmem/cachealloc/pkg/device"
	"github.com/devmem/cachealloc/pkg/device/hostmem"
	"github.com/devmem/cachealloc/pkg/device/sim"
	"github.com/devmem/cachealloc/pkg/metrics"
)

type countingLauncher struct {
	stream   *sim.Stream
	launched atomic.Int64
}

func (l *countingLauncher) Launch() {
	l.stream.Launch()
	l.launched.Add(1)
}

func newWorkloadRegistry(t *testing.T, capacity int64) (*sim.Device, *allocator.Registry) {
	dev := sim.New(sim.WithCapacity(capacity))
	r, err := allocator.NewConfiguredRegistry(cfgapi.Default(), dev, hostmem.New())
	require.NoError(t, err)
	return dev, r
}

func TestWorkload(t *testing.T) {
	dev, r := newWorkloadRegistry(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go dev.Run(ctx, 50*time.Microsecond)

	l := &countingLauncher{stream: dev.Stream(0)}
	w := &workload{
		registry:  r,
		device:    l,
		workers:   4,
		ops:       200,
		maxSize:   8192,
		window:    2,
		hostEvery: 4,
		seed:      1,
	}

	res, err := w.run(context.Background())
	cancel()
	dev.CompleteAll()

	require.NoError(t, err)
	require.Equal(t, int64(4*200), res.ops.Load())
	require.Equal(t, int64(4*150), l.launched.Load())
	require.Zero(t, res.failures.Load())

	a, err := r.Get(device.ClassDevice)
	require.NoError(t, err)
	s := a.(*allocator.BSAllocator).Stats()
	require.Equal(t, int64(600), s.Hits+s.Misses)
	require.Equal(t, s.TotalBlocks, s.IdleBlocks)

	require.NoError(t, r.Shutdown())
	require.Zero(t, dev.Live())
}

func TestWorkloadTrimsOnOutOfMemory(t *testing.T) {
	dev, r := newWorkloadRegistry(t, 4096)

	w := &workload{
		registry: r,
		device:   &countingLauncher{stream: dev.Stream(0)},
		workers:  1,
		ops:      50,
		maxSize:  4096,
		window:   1,
		seed:     2,
	}

	res, err := w.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(50), res.ops.Load()+res.failures.Load())
	require.Equal(t, res.failures.Load(), res.trims.Load())
	require.NotZero(t, res.failures.Load())

	dev.CompleteAll()
	require.NoError(t, r.Shutdown())
}

func TestWorkloadStopsOnCancel(t *testing.T) {
	dev, r := newWorkloadRegistry(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &workload{
		registry: r,
		device:   &countingLauncher{stream: dev.Stream(0)},
		workers:  2,
		ops:      1000,
		maxSize:  512,
		seed:     3,
	}

	res, err := w.run(ctx)
	require.NoError(t, err)
	require.Zero(t, res.ops.Load())
	require.NoError(t, r.Shutdown())
}

func TestParseFlags(t *testing.T) {
	t.Setenv(deviceAlgorithmEnv, "RAW")

	opts, err := parseFlags([]string{"-workers", "2", "-ops", "10"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, 2, opts.workers)
	require.Equal(t, 10, opts.ops)
	require.Equal(t, "RAW", opts.deviceAlgorithm)
	require.Equal(t, "", opts.hostAlgorithm)

	opts, err = parseFlags([]string{"-device-algorithm", "BS"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "BS", opts.deviceAlgorithm)

	for _, tc := range []struct {
		args []string
		msg  string
	}{
		{[]string{"-workers", "0"}, "invalid -workers 0"},
		{[]string{"-max-size", "0"}, "invalid -max-size 0"},
		{[]string{"-complete-interval", "0s"}, "invalid -complete-interval 0s"},
		{[]string{"-window", "-1"}, "negative -window"},
		{[]string{"-no-such-flag"}, "flag provided but not defined"},
	} {
		out := &bytes.Buffer{}
		_, err := parseFlags(tc.args, out)
		require.Error(t, err, "args %v", tc.args)
		require.Contains(t, out.String(), tc.msg, "args %v", tc.args)
		require.Contains(t, out.String(), "Usage of devmem-bench", "args %v", tc.args)
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(&options{
		hostAlgorithm: "RAW",
		metricsAddr:   "127.0.0.1:0",
	})
	require.NoError(t, err)
	require.Equal(t, cfgapi.DefaultAlgorithm, cfg.DeviceAlgorithm)
	require.Equal(t, "RAW", cfg.HostAlgorithm)
	require.Equal(t, "127.0.0.1:0", cfg.Instrumentation.HTTPEndpoint)
	require.True(t, cfg.Instrumentation.PrometheusExport)

	_, err = loadConfig(&options{config: t.TempDir() + "/missing.yaml"})
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	opts, err := parseFlags([]string{
		"-workers", "2",
		"-ops", "100",
		"-max-size", "4096",
		"-device-capacity", "0",
		"-seed", "4",
	}, io.Discard)
	require.NoError(t, err)

	cfg, err := loadConfig(opts)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, run(context.Background(), opts, cfg, metrics.NewRegistry(), out))
	require.Nil(t, allocator.Default())

	text := out.String()
	require.Contains(t, text, "workload: 200 allocations")
	require.Contains(t, text, "allocator statistics after trim:")
	require.Contains(t, text, "* device/BS")
	require.Contains(t, text, "devmem_allocator_cache_misses_total")
}
