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

// devmem-bench drives the caching allocators with a concurrent workload
// on a simulated accelerator and host memory, and reports allocator
// statistics and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/devmem/cachealloc/pkg/allocator"
	cfgapi "github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/allocator"
	"github.com/devmem/cachealloc/pkg/device/hostmem"
	"github.com/devmem/cachealloc/pkg/device/sim"
	"github.com/devmem/cachealloc/pkg/healthz"
	"github.com/devmem/cachealloc/pkg/instrumentation"
	logger "github.com/devmem/cachealloc/pkg/log"
	"github.com/devmem/cachealloc/pkg/metrics"
	_ "github.com/devmem/cachealloc/pkg/metrics/collectors"
	"github.com/devmem/cachealloc/pkg/utils"
)

const (
	deviceAlgorithmEnv = "DEVMEM_DEVICE_MEMCACHING_ALGORITHM"
	hostAlgorithmEnv   = "DEVMEM_HOST_MEMCACHING_ALGORITHM"
)

var (
	log = logger.Get("devmem-bench")
)

type options struct {
	config           string
	deviceAlgorithm  string
	hostAlgorithm    string
	workers          int
	ops              int
	rate             float64
	maxSize          int64
	window           int
	hostEvery        int
	deviceCapacity   int64
	completeInterval time.Duration
	metricsAddr      string
	seed             uint64
}

// parseFlags parses and checks the command line. Errors are reported to
// output, followed by the usage message.
func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("devmem-bench", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.config, "config", "", "allocator configuration file")
	fs.StringVar(&opts.deviceAlgorithm, "device-algorithm", os.Getenv(deviceAlgorithmEnv),
		"allocator policy for device memory (BS, RAW), overrides the configuration")
	fs.StringVar(&opts.hostAlgorithm, "host-algorithm", os.Getenv(hostAlgorithmEnv),
		"allocator policy for host memory (BS, RAW), overrides the configuration")
	fs.IntVar(&opts.workers, "workers", 4, "number of concurrent workers")
	fs.IntVar(&opts.ops, "ops", 10000, "number of allocations per worker")
	fs.Float64Var(&opts.rate, "rate", 0, "allocations per second across all workers, 0 for unlimited")
	fs.Int64Var(&opts.maxSize, "max-size", 1<<20, "maximum allocation size in bytes")
	fs.IntVar(&opts.window, "window", 4, "number of allocations each worker keeps in use")
	fs.IntVar(&opts.hostEvery, "host-every", 8, "allocate host memory every Nth allocation, 0 for never")
	fs.Int64Var(&opts.deviceCapacity, "device-capacity", 1<<30, "simulated device memory in bytes, 0 for unlimited")
	fs.DurationVar(&opts.completeInterval, "complete-interval", 100*time.Microsecond,
		"interval for completing one unit of simulated device work")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve /metrics and /healthz on")
	fs.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "random seed for allocation sizes")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	switch {
	case opts.workers < 1:
		err = fmt.Errorf("invalid -workers %d", opts.workers)
	case opts.maxSize < 1:
		err = fmt.Errorf("invalid -max-size %d", opts.maxSize)
	case opts.completeInterval <= 0:
		err = fmt.Errorf("invalid -complete-interval %s", opts.completeInterval)
	case opts.window < 0 || opts.ops < 0 || opts.hostEvery < 0 || opts.rate < 0:
		err = fmt.Errorf("negative -window, -ops, -host-every or -rate")
	}
	if err != nil {
		fmt.Fprintln(fs.Output(), err)
		fs.Usage()
		return nil, err
	}

	return opts, nil
}

func loadConfig(opts *options) (*cfgapi.Config, error) {
	var (
		cfg = cfgapi.Default()
		err error
	)

	if opts.config != "" {
		if cfg, err = cfgapi.Load(opts.config); err != nil {
			return nil, err
		}
	}

	if opts.deviceAlgorithm != "" {
		cfg.DeviceAlgorithm = opts.deviceAlgorithm
	}
	if opts.hostAlgorithm != "" {
		cfg.HostAlgorithm = opts.hostAlgorithm
	}
	if opts.metricsAddr != "" {
		cfg.Instrumentation.HTTPEndpoint = opts.metricsAddr
		cfg.Instrumentation.PrometheusExport = true
	}

	return cfg, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal("failed to load configuration: %v", err)
	}

	if err := logger.Configure(&cfg.Log); err != nil {
		log.Fatal("failed to configure logging: %v", err)
	}
	logger.SetSlogLogger("")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, cfg, metrics.Default(), os.Stdout); err != nil {
		log.Fatal("%v", err)
	}
}

func run(ctx context.Context, opts *options, cfg *cfgapi.Config, mreg *metrics.Registry, out io.Writer) error {
	dev := sim.New(sim.WithCapacity(opts.deviceCapacity))
	host := hostmem.New()

	if err := allocator.Init(cfg, dev, host); err != nil {
		return fmt.Errorf("failed to set up allocators: %w", err)
	}
	registry := allocator.Default()

	defer func() {
		if err := allocator.Shutdown(); err != nil {
			log.Error("allocator shutdown: %v", err)
		}
	}()

	if err := mreg.Register("allocator", allocator.NewCollector(registry),
		metrics.WithGroup("allocator")); err != nil {
		return err
	}
	healthz.RegisterHealthChecker("allocator", registry.HealthCheck)
	defer healthz.UnregisterHealthChecker("allocator")

	svc := instrumentation.New(&cfg.Instrumentation, mreg)
	if err := svc.Start(); err != nil {
		return err
	}
	defer svc.Stop()

	devCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go dev.Run(devCtx, opts.completeInterval)

	w := &workload{
		registry:  registry,
		device:    launchFunc(func() { dev.CurrentStream().(*sim.Stream).Launch() }),
		workers:   opts.workers,
		ops:       opts.ops,
		maxSize:   opts.maxSize,
		window:    opts.window,
		hostEvery: opts.hostEvery,
		seed:      opts.seed,
	}
	if opts.rate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(opts.rate), max(1, opts.workers))
	}

	log.Info("running %d workers, %d allocations each, device policy %s, host policy %s",
		opts.workers, opts.ops, cfg.DeviceAlgorithm, cfg.HostAlgorithm)

	res, err := w.run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "workload: %s\n", res)
	printStats(out, registry, "after workload")

	for _, class := range registry.Classes() {
		if err := registry.Trim(class); err != nil {
			return err
		}
	}
	printStats(out, registry, "after trim")

	fmt.Fprintf(out, "metrics:\n")
	return svc.Gatherer().WriteText(out)
}

type launchFunc func()

func (fn launchFunc) Launch() {
	fn()
}

func printStats(out io.Writer, r *allocator.Registry, when string) {
	fmt.Fprintf(out, "allocator statistics %s:\n", when)
	for _, e := range r.Entries() {
		active := " "
		if r.Algorithm(e.Class) == e.Name {
			active = "*"
		}
		switch a := e.Allocator.(type) {
		case *allocator.BSAllocator:
			s := a.Stats()
			fmt.Fprintf(out, "  %s %s/%s: %d blocks (%s), %d idle (%s), %d buckets, "+
				"%d hits, %d misses, %d skips, %d pending events, %d compactions, %d trimmed\n",
				active, e.Class, e.Name, s.TotalBlocks, utils.PrettySize(s.AllocatedBytes),
				s.IdleBlocks, utils.PrettySize(s.IdleBytes), s.Buckets, s.Hits, s.Misses,
				s.Skips, s.PendingEvents, s.Compactions, s.TrimmedBlocks)
		default:
			fmt.Fprintf(out, "  %s %s/%s\n", active, e.Class, e.Name)
		}
	}
	seen := map[*allocator.RawAllocator]bool{}
	for _, e := range r.Entries() {
		raw := e.Allocator.RawAllocator()
		if raw == nil || seen[raw] {
			continue
		}
		seen[raw] = true
		s := raw.Stats()
		fmt.Fprintf(out, "  %s memory: %d mallocs, %d frees, %d failures, %s live, %s peak\n",
			e.Class, s.Mallocs, s.Frees, s.Failures, utils.PrettySize(s.LiveBytes),
			utils.PrettySize(s.PeakBytes))
	}
}
