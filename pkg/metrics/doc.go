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

// Package metrics is a thin layer over prometheus for registering named
// collectors in groups, enabling them and switching them to polled mode by
// glob patterns, and gathering the enabled ones.
//
// A polled collector is collected periodically by the gatherer, and the
// metrics of the last poll are served when metrics are gathered. This is
// useful for collectors which are too costly to collect on every request.
//
// Collector names are prefixed by default with the group name, and the
// namespace of the gatherer if one is given.
//
//	metrics.MustRegister("allocator", allocator.NewCollector(registry),
//	    metrics.WithGroup("allocator"))
//
//	g, err := metrics.NewGatherer(
//	    metrics.WithNamespace("devmem"),
//	    metrics.WithMetrics([]string{"allocator", "standard"}, nil),
//	)
//	...
//	http.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
