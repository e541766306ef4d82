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

// Package allocator defines the configuration of the caching allocators.
package allocator

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/log"
	"github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/metrics"
)

const (
	// DefaultAlgorithm is the allocator policy used if none is configured.
	DefaultAlgorithm = "BS"
	// DefaultAlignment is the default size granularity of cached blocks.
	DefaultAlignment = 512
	// DefaultEventCompactionThreshold is the default number of pending
	// events above which completed ones are dropped.
	DefaultEventCompactionThreshold = 64

	metricsReportPeriod = 30 * time.Second
)

// Config provides runtime configuration for the caching allocators.
type Config struct {
	// DeviceAlgorithm is the name of the allocator policy for device memory.
	// +optional
	// +kubebuilder:default="BS"
	DeviceAlgorithm string `json:"deviceAlgorithm,omitempty"`
	// HostAlgorithm is the name of the allocator policy for host memory.
	// +optional
	// +kubebuilder:default="BS"
	HostAlgorithm string `json:"hostAlgorithm,omitempty"`
	// Alignment is the size granularity of cached blocks.
	// +optional
	// +kubebuilder:example="1Ki"
	Alignment *resource.Quantity `json:"alignment,omitempty"`
	// EventCompactionThreshold is the number of pending events above which
	// completed events are dropped.
	// +optional
	EventCompactionThreshold *int `json:"eventCompactionThreshold,omitempty"`
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	alignment := resource.NewQuantity(DefaultAlignment, resource.BinarySI)
	threshold := DefaultEventCompactionThreshold

	return &Config{
		DeviceAlgorithm:          DefaultAlgorithm,
		HostAlgorithm:            DefaultAlgorithm,
		Alignment:                alignment,
		EventCompactionThreshold: &threshold,
		Instrumentation: instrumentation.Config{
			ReportPeriod: metav1.Duration{Duration: metricsReportPeriod},
			Metrics: &metrics.Config{
				Enabled: []string{"allocator"},
			},
		},
	}
}

// Parse parses a YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse allocator configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %q", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid configuration file %q", path)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Alignment != nil && c.Alignment.Value() <= 0 {
		return fmt.Errorf("invalid alignment %s, must be positive", c.Alignment.String())
	}
	if c.EventCompactionThreshold != nil && *c.EventCompactionThreshold < 0 {
		return fmt.Errorf("invalid event compaction threshold %d, must not be negative",
			*c.EventCompactionThreshold)
	}
	if c.Instrumentation.ReportPeriod.Duration < 0 {
		return fmt.Errorf("invalid report period %s", c.Instrumentation.ReportPeriod.Duration)
	}
	if r := c.Instrumentation.SamplingRatePerMillion; r < 0 || r > 1000000 {
		return fmt.Errorf("invalid sampling rate %d per million", r)
	}
	return nil
}

// AlignmentBytes returns the configured alignment in bytes.
func (c *Config) AlignmentBytes() int64 {
	if c == nil || c.Alignment == nil {
		return DefaultAlignment
	}
	return c.Alignment.Value()
}

// CompactionThreshold returns the configured event compaction threshold.
func (c *Config) CompactionThreshold() int {
	if c == nil || c.EventCompactionThreshold == nil {
		return DefaultEventCompactionThreshold
	}
	return *c.EventCompactionThreshold
}