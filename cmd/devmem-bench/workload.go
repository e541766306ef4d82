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
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/devmem/cachealloc/pkg/allocator"
	"github.com/devmem/cachealloc/pkg/device"
)

// launcher issues work on the current stream of a device.
type launcher interface {
	Launch()
}

// workload is a concurrent allocate/use/release churn against a registry.
type workload struct {
	registry  *allocator.Registry
	device    launcher
	workers   int
	ops       int
	maxSize   int64
	window    int
	hostEvery int
	limiter   *rate.Limiter
	seed      uint64
}

// result is the outcome of a workload run.
type result struct {
	ops      atomic.Int64
	failures atomic.Int64
	trims    atomic.Int64
	bytes    atomic.Int64
	elapsed  time.Duration
}

func (r *result) String() string {
	ops := r.ops.Load()
	perSec := 0.0
	if r.elapsed > 0 {
		perSec = float64(ops) / r.elapsed.Seconds()
	}
	return fmt.Sprintf("%d allocations (%.0f/s), %d bytes, %d out-of-memory failures, %d trims in %s",
		ops, perSec, r.bytes.Load(), r.failures.Load(), r.trims.Load(), r.elapsed.Round(time.Millisecond))
}

func (w *workload) run(ctx context.Context) (*result, error) {
	var (
		res  = &result{}
		wg   sync.WaitGroup
		errs = make(chan error, w.workers)
	)

	start := time.Now()
	for id := 0; id < w.workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := w.worker(ctx, id, res); err != nil {
				errs <- fmt.Errorf("worker #%d: %w", id, err)
			}
		}(id)
	}
	wg.Wait()
	res.elapsed = time.Since(start)

	close(errs)
	var err error
	for e := range errs {
		err = errors.Join(err, e)
	}

	return res, err
}

func (w *workload) worker(ctx context.Context, id int, res *result) error {
	var (
		rng     = rand.New(rand.NewPCG(w.seed, uint64(id)))
		handles []*allocator.Handle
	)

	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	for i := 0; i < w.ops; i++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}

		class := device.ClassDevice
		if w.hostEvery > 0 && i%w.hostEvery == w.hostEvery-1 {
			class = device.ClassHost
		}

		size := 1 + rng.Int64N(w.maxSize)
		h, err := w.registry.Allocate(class, size)
		if err != nil {
			if !errors.Is(err, allocator.ErrNoMem) {
				return err
			}
			res.failures.Add(1)
			log.Debug("worker #%d: out of %s memory, trimming cache", id, class)
			if err := w.registry.Trim(class); err != nil {
				return err
			}
			res.trims.Add(1)
			continue
		}

		res.ops.Add(1)
		res.bytes.Add(size)

		if class == device.ClassDevice {
			w.device.Launch()
		}

		handles = append(handles, h)
		if len(handles) > w.window {
			handles[0].Release()
			handles = handles[1:]
		}
	}

	return nil
}
