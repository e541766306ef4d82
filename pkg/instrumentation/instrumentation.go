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

// Package instrumentation runs the HTTP endpoint serving metrics and health
// status, and sets up tracing.
package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgapi "github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/devmem/cachealloc/pkg/healthz"
	"github.com/devmem/cachealloc/pkg/instrumentation/tracing"
	logger "github.com/devmem/cachealloc/pkg/log"
	"github.com/devmem/cachealloc/pkg/metrics"
)

const (
	// ServiceName is our service name in external tracing services.
	ServiceName = "devmem-cachealloc"
	// Namespace is the common prefix of our metrics.
	Namespace = "devmem"

	shutdownTimeout = 5 * time.Second
)

var (
	log = logger.NewLogger("instrumentation")
)

// Service is the set of running instrumentation services.
type Service struct {
	sync.Mutex
	cfg      cfgapi.Config
	registry *metrics.Registry
	gatherer *metrics.Gatherer
	srv      *http.Server
	addr     string
	done     chan struct{}
}

// New creates instrumentation services for the given configuration and
// metrics registry.
func New(cfg *cfgapi.Config, registry *metrics.Registry) *Service {
	s := &Service{
		registry: registry,
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	if s.registry == nil {
		s.registry = metrics.Default()
	}
	return s
}

// Start starts tracing, metrics gathering and the HTTP server.
func (s *Service) Start() error {
	log.Info("starting instrumentation services...")

	s.Lock()
	defer s.Unlock()

	if err := tracing.Start(
		tracing.WithServiceName(ServiceName),
		tracing.WithCollectorEndpoint(s.cfg.TracingCollector),
		tracing.WithSamplingRatio(s.cfg.SamplingRatio()),
	); err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}

	var enabled, polled []string
	if m := s.cfg.Metrics; m != nil {
		enabled, polled = m.Enabled, m.Polled
	}

	opts := []metrics.GathererOption{
		metrics.WithNamespace(Namespace),
		metrics.WithMetrics(enabled, polled),
	}
	if period := s.cfg.ReportPeriod.Duration; period > 0 {
		opts = append(opts, metrics.WithPollInterval(period))
	}

	g, err := s.registry.NewGatherer(opts...)
	if err != nil {
		tracing.Stop()
		return fmt.Errorf("failed to start metrics: %w", err)
	}
	s.gatherer = g

	if s.cfg.HTTPEndpoint == "" {
		log.Info("HTTP server disabled, no endpoint set")
		return nil
	}

	if err := s.startHTTP(); err != nil {
		s.gatherer.Stop()
		tracing.Stop()
		return err
	}

	return nil
}

func (s *Service) startHTTP() error {
	mux := http.NewServeMux()
	healthz.Setup(mux)

	if s.cfg.PrometheusExport {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
			ErrorLog: log,
		}))
	}

	ln, err := net.Listen("tcp", s.cfg.HTTPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = ln.Addr().String()
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.srv, s.done)

	log.Info("HTTP server listening on %s", s.addr)

	return nil
}

// Address returns the address the HTTP server listens on.
func (s *Service) Address() string {
	s.Lock()
	defer s.Unlock()
	return s.addr
}

// Gatherer returns the metrics gatherer of the running services.
func (s *Service) Gatherer() *metrics.Gatherer {
	s.Lock()
	defer s.Unlock()
	return s.gatherer
}

// Stop stops all instrumentation services.
func (s *Service) Stop() {
	s.Lock()
	defer s.Unlock()

	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.srv.Shutdown(ctx); err != nil {
			log.Error("failed to shut down HTTP server: %v", err)
		}
		<-s.done

		s.srv = nil
		s.addr = ""
	}

	if s.gatherer != nil {
		s.gatherer.Stop()
	}

	tracing.Stop()
}
