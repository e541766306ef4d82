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

package metrics_test

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	logger "github.com/devmem/cachealloc/pkg/log"
	"github.com/devmem/cachealloc/pkg/metrics"
)

func TestPrefixing(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "plain", metrics.WithCollectorOptions(
		metrics.WithoutNamespace(), metrics.WithoutSubsystem()))
	newTestGauge(t, r, "grouped", metrics.WithGroup("group1"),
		metrics.WithCollectorOptions(metrics.WithoutNamespace()))
	newTestGauge(t, r, "spaced", metrics.WithGroup("group1"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "full", metrics.WithGroup("group2"))

	srv := newTestServer(t, r, metrics.WithNamespace("ns"), metrics.WithMetrics([]string{"*"}, nil))
	defer srv.stop()

	described, collected := srv.collect(t)
	require.True(t, described.HasEntry("plain", "gauge"))
	require.True(t, described.HasEntry("group1_grouped", "gauge"))
	require.True(t, described.HasEntry("ns_spaced", "gauge"))
	require.True(t, described.HasEntry("ns_group2_full", "gauge"))
	require.Equal(t, "0", collected.GetValue("ns_group2_full"))
}

func TestUpdatedMetricsCollection(t *testing.T) {
	r := metrics.NewRegistry()

	g1 := newTestGauge(t, r, "test1")
	g2 := newTestGauge(t, r, "test2")

	srv := newTestServer(t, r, metrics.WithMetrics([]string{"*"}, nil))
	defer srv.stop()

	_, collected := srv.collect(t)
	require.Equal(t, "0", collected.GetValue("default_test1"))
	require.Equal(t, "0", collected.GetValue("default_test2"))

	g1.Inc()
	g2.Set(5)

	_, collected = srv.collect(t)
	require.Equal(t, "1", collected.GetValue("default_test1"))
	require.Equal(t, "5", collected.GetValue("default_test2"))
}

func TestMetricsConfiguration(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "test1", metrics.WithGroup("group1"))
	newTestGauge(t, r, "test2", metrics.WithGroup("group1"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test3", metrics.WithGroup("group2"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test4", metrics.WithGroup("group2"))

	srv := newTestServer(t, r, metrics.WithMetrics([]string{"test1", "group2"}, nil))
	defer srv.stop()

	_, collected := srv.collect(t)
	require.True(t, collected.HasEntry("group1_test1"), "group1_test1 collected")
	require.False(t, collected.HasEntry("test2"), "test2 not collected")
	require.True(t, collected.HasEntry("test3"), "test3 collected")
	require.True(t, collected.HasEntry("group2_test4"), "group2_test4 collected")
}

func TestUnmatchedGlob(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "test1")

	_, err := r.NewGatherer(metrics.WithMetrics([]string{"test1", "nope*"}, nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "nope*")
}

func TestDuplicateRegistration(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "test1")

	err := r.Register("test1", prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup", Help: "dup"}))
	require.Error(t, err)
}

func TestMetricsPolling(t *testing.T) {
	r := metrics.NewRegistry()

	p1 := newTestPolled(t, r, "test1")
	p2 := newTestPolled(t, r, "test2")

	srv := newTestServer(t, r, metrics.WithMetrics(nil, []string{"*"}), metrics.WithoutPolling())
	defer srv.stop()

	require.True(t, r.State().IsPolled())

	_, collected := srv.collect(t)
	require.Equal(t, "0", collected.GetValue("test1"))
	require.Equal(t, "0", collected.GetValue("test2"))

	p1.Set(1)
	p2.Set(7)

	_, collected = srv.collect(t)
	require.Equal(t, "0", collected.GetValue("test1"), "stale until polled")
	require.Equal(t, "0", collected.GetValue("test2"), "stale until polled")

	srv.g.Poll()

	_, collected = srv.collect(t)
	require.Equal(t, "1", collected.GetValue("test1"))
	require.Equal(t, "7", collected.GetValue("test2"))
}

func TestWriteText(t *testing.T) {
	r := metrics.NewRegistry()
	g := newTestGauge(t, r, "test1", metrics.WithGroup("text"))
	g.Set(42)

	gatherer, err := r.NewGatherer(metrics.WithMetrics([]string{"text"}, nil))
	require.NoError(t, err)
	defer gatherer.Stop()

	buf := &bytes.Buffer{}
	require.NoError(t, gatherer.WriteText(buf))
	require.Contains(t, buf.String(), "# TYPE text_test1 gauge")
	require.Contains(t, buf.String(), "text_test1 42")
}

func newTestGauge(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) prometheus.Gauge {
	g := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: name,
			Help: "Test gauge " + name,
		},
	)
	require.NoError(t, r.Register(name, g, options...))
	return g
}

type testPolled struct {
	desc  *prometheus.Desc
	value float64
}

func newTestPolled(t *testing.T, r *metrics.Registry, name string) *testPolled {
	p := &testPolled{
		desc: prometheus.NewDesc(name, "Help for metric "+name, nil, nil),
	}
	require.NoError(t, r.Register(name, p, metrics.WithCollectorOptions(metrics.WithoutSubsystem())))
	return p
}

func (p *testPolled) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
}

func (p *testPolled) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, p.value)
}

func (p *testPolled) Set(v float64) {
	p.value = v
}

type described []string

func (d described) HasEntry(name, kind string) bool {
	for _, e := range d {
		split := strings.Split(e, " ")
		if len(split) >= 2 && split[0] == name && split[1] == kind {
			return true
		}
	}
	return false
}

type collected []string

func (c collected) HasEntry(name string) bool {
	_, ok := c.lookup(name)
	return ok
}

func (c collected) GetValue(name string) string {
	v, _ := c.lookup(name)
	return v
}

func (c collected) lookup(name string) (string, bool) {
	for _, e := range c {
		split := strings.SplitN(e, " ", 2)
		if len(split) == 2 && split[0] == name {
			return split[1], true
		}
	}
	return "", false
}

type testServer struct {
	srv *httptest.Server
	g   *metrics.Gatherer
}

func newTestServer(t *testing.T, r *metrics.Registry, opts ...metrics.GathererOption) *testServer {
	g, err := r.NewGatherer(opts...)
	require.NoError(t, err)
	require.NotNil(t, g)

	handlerOpts := promhttp.HandlerOpts{
		ErrorLog:      logger.Get("metrics-test"),
		ErrorHandling: promhttp.PanicOnError,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, handlerOpts))

	return &testServer{
		srv: httptest.NewServer(mux),
		g:   g,
	}
}

func (srv *testServer) stop() {
	srv.srv.Close()
	srv.g.Stop()
}

func (srv *testServer) collect(t *testing.T) (described, collected) {
	resp, err := http.Get(srv.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var (
		types   described
		metrics collected
		scanner = bufio.NewScanner(resp.Body)
	)

	for scanner.Scan() {
		e := scanner.Text()
		switch {
		case strings.HasPrefix(e, "# TYPE "):
			types = append(types, strings.TrimPrefix(e, "# TYPE "))
		case strings.HasPrefix(e, "#"):
		default:
			metrics = append(metrics, e)
		}
	}

	return types, metrics
}
