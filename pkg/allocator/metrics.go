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
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the counters of the policies and raw allocators in a
// registry as prometheus metrics.
type Collector struct {
	r *Registry

	active         *prometheus.Desc
	idleBlocks     *prometheus.Desc
	totalBlocks    *prometheus.Desc
	buckets        *prometheus.Desc
	pendingEvents  *prometheus.Desc
	idleBytes      *prometheus.Desc
	allocatedBytes *prometheus.Desc
	hits           *prometheus.Desc
	misses         *prometheus.Desc
	skips          *prometheus.Desc
	compactions    *prometheus.Desc
	trimmed        *prometheus.Desc

	mallocs   *prometheus.Desc
	frees     *prometheus.Desc
	failures  *prometheus.Desc
	liveBytes *prometheus.Desc
	peakBytes *prometheus.Desc
}

// NewCollector creates a collector for the given registry.
func NewCollector(r *Registry) *Collector {
	var (
		policy = []string{"class", "policy"}
		class  = []string{"class"}
	)

	return &Collector{
		r: r,

		active: prometheus.NewDesc("policy_active",
			"Whether the policy is the active one for its class of memory.", policy, nil),
		idleBlocks: prometheus.NewDesc("idle_blocks",
			"Number of cached blocks.", policy, nil),
		totalBlocks: prometheus.NewDesc("total_blocks",
			"Number of blocks, in use or cached.", policy, nil),
		buckets: prometheus.NewDesc("buckets",
			"Number of non-empty buckets.", policy, nil),
		pendingEvents: prometheus.NewDesc("pending_events",
			"Number of tracked events.", policy, nil),
		idleBytes: prometheus.NewDesc("idle_bytes",
			"Amount of cached memory.", policy, nil),
		allocatedBytes: prometheus.NewDesc("allocated_bytes",
			"Amount of memory in all blocks.", policy, nil),
		hits: prometheus.NewDesc("cache_hits_total",
			"Number of allocations served from the cache.", policy, nil),
		misses: prometheus.NewDesc("cache_misses_total",
			"Number of allocations served by the device.", policy, nil),
		skips: prometheus.NewDesc("scan_skips_total",
			"Number of cached blocks passed over as still in use.", policy, nil),
		compactions: prometheus.NewDesc("event_compactions_total",
			"Number of times completed events were dropped.", policy, nil),
		trimmed: prometheus.NewDesc("trimmed_blocks_total",
			"Number of cached blocks returned to the device.", policy, nil),

		mallocs: prometheus.NewDesc("raw_mallocs_total",
			"Number of physical allocations.", class, nil),
		frees: prometheus.NewDesc("raw_frees_total",
			"Number of physical frees.", class, nil),
		failures: prometheus.NewDesc("raw_failures_total",
			"Number of failed physical allocations.", class, nil),
		liveBytes: prometheus.NewDesc("raw_live_bytes",
			"Amount of physically allocated memory.", class, nil),
		peakBytes: prometheus.NewDesc("raw_peak_bytes",
			"Highest amount of physically allocated memory.", class, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.active, c.idleBlocks, c.totalBlocks, c.buckets, c.pendingEvents,
		c.idleBytes, c.allocatedBytes, c.hits, c.misses, c.skips,
		c.compactions, c.trimmed,
		c.mallocs, c.frees, c.failures, c.liveBytes, c.peakBytes,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var (
		seen  = map[string]struct{}{}
		gauge = prometheus.GaugeValue
		count = prometheus.CounterValue
	)

	for _, e := range c.r.Entries() {
		class, name := string(e.Class), e.Name

		active := 0.0
		if c.r.Algorithm(e.Class) == name {
			active = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.active, gauge, active, class, name)

		if bs, ok := e.Allocator.(interface{ Stats() BSStats }); ok {
			s := bs.Stats()
			for _, m := range []struct {
				desc  *prometheus.Desc
				kind  prometheus.ValueType
				value float64
			}{
				{c.idleBlocks, gauge, float64(s.IdleBlocks)},
				{c.totalBlocks, gauge, float64(s.TotalBlocks)},
				{c.buckets, gauge, float64(s.Buckets)},
				{c.pendingEvents, gauge, float64(s.PendingEvents)},
				{c.idleBytes, gauge, float64(s.IdleBytes)},
				{c.allocatedBytes, gauge, float64(s.AllocatedBytes)},
				{c.hits, count, float64(s.Hits)},
				{c.misses, count, float64(s.Misses)},
				{c.skips, count, float64(s.Skips)},
				{c.compactions, count, float64(s.Compactions)},
				{c.trimmed, count, float64(s.TrimmedBlocks)},
			} {
				ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value, class, name)
			}
		}

		raw := e.Allocator.RawAllocator()
		if raw == nil {
			continue
		}
		if _, ok := seen[class]; ok {
			continue
		}
		seen[class] = struct{}{}

		s := raw.Stats()
		ch <- prometheus.MustNewConstMetric(c.mallocs, count, float64(s.Mallocs), class)
		ch <- prometheus.MustNewConstMetric(c.frees, count, float64(s.Frees), class)
		ch <- prometheus.MustNewConstMetric(c.failures, count, float64(s.Failures), class)
		ch <- prometheus.MustNewConstMetric(c.liveBytes, gauge, float64(s.LiveBytes), class)
		ch <- prometheus.MustNewConstMetric(c.peakBytes, gauge, float64(s.PeakBytes), class)
	}
}
