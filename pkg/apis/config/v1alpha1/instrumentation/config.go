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

package instrumentation

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/metrics"
)

// Config provides runtime configuration for instrumentation.
type Config struct {
	// SamplingRatePerMillion is the number of samples to collect per million spans.
	// +optional
	// +kubebuilder:example=100000
	SamplingRatePerMillion int `json:"samplingRatePerMillion,omitempty"`
	// TracingCollector defines the external endpoint for tracing data collection.
	// Endpoints are either full http(s) URLs, or "otlp-http" which implies the
	// default local collector at localhost:4318.
	// +optional
	// +kubebuilder:example="otlp-http"
	TracingCollector string `json:"tracingCollector,omitempty"`
	// ReportPeriod is the interval between collecting polled metrics.
	// +optional
	// +kubebuilder:default="30s"
	ReportPeriod metav1.Duration `json:"reportPeriod,omitempty"`
	// HTTPEndpoint is the address our HTTP server listens on for serving
	// /metrics and /healthz. The server is not started if this is empty.
	// +optional
	// +kubebuilder:example=":8891"
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport enables exporting /metrics for Prometheus.
	// +optional
	PrometheusExport bool `json:"prometheusExport,omitempty"`
	// Metrics defines which metrics to collect.
	// +optional
	Metrics *metrics.Config `json:"metrics,omitempty"`
}

// SamplingRatio returns the tracing sampling ratio.
func (c *Config) SamplingRatio() float64 {
	return float64(c.SamplingRatePerMillion) / 1000000.0
}
