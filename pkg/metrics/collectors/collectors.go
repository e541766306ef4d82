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

// Package collectors registers the standard process collectors in the
// "standard" metrics group of the default registry.
package collectors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	logger "github.com/devmem/cachealloc/pkg/log"
	"github.com/devmem/cachealloc/pkg/metrics"
	"github.com/devmem/cachealloc/pkg/version"
)

const (
	// Group is the metrics group of the standard collectors.
	Group = "standard"
)

var (
	log = logger.Get("metrics")
)

// NewVersionInfoCollector returns a constant gauge labeled with version and
// build information.
func NewVersionInfoCollector(v, b string) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "version_info",
			Help: "A metric with constant '1' value labeled by version and build info.",
			ConstLabels: prometheus.Labels{
				"version": v,
				"build":   b,
			},
		},
		func() float64 { return 1 },
	)
}

// Standard returns the standard collectors by name.
func Standard() map[string]prometheus.Collector {
	return map[string]prometheus.Collector{
		"buildinfo":   collectors.NewBuildInfoCollector(),
		"golang":      collectors.NewGoCollector(),
		"process":     collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		"versioninfo": NewVersionInfoCollector(version.Version, version.Build),
	}
}

// Register registers the standard collectors with the given registry.
func Register(r *metrics.Registry) error {
	options := []metrics.RegisterOption{
		metrics.WithGroup(Group),
		metrics.WithCollectorOptions(
			metrics.WithoutNamespace(),
			metrics.WithoutSubsystem(),
		),
	}

	for name, collector := range Standard() {
		if err := r.Register(name, collector, options...); err != nil {
			return err
		}
	}

	return nil
}

func init() {
	if err := Register(metrics.Default()); err != nil {
		log.Error("failed to register standard collectors: %v", err)
	}
}
