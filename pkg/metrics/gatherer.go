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

package metrics

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	// MinPollInterval is the most frequent allowed polling interval.
	MinPollInterval = 5 * time.Second
	// DefaultPollInterval is the default interval for polling collectors.
	DefaultPollInterval = 30 * time.Second
)

// Gatherer gathers the enabled collectors of a registry.
type Gatherer struct {
	*prometheus.Registry
	r            *Registry
	namespace    string
	pollInterval time.Duration
	enabled      []string
	polled       []string
	lock         sync.Mutex
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the namespace prefix for gathered metrics.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithPollInterval sets the interval for polling collectors.
func WithPollInterval(interval time.Duration) GathererOption {
	return func(g *Gatherer) {
		g.pollInterval = max(interval, MinPollInterval)
	}
}

// WithoutPolling disables periodic polling. Polled collectors are only
// polled when Poll is called.
func WithoutPolling() GathererOption {
	return func(g *Gatherer) {
		g.pollInterval = 0
	}
}

// WithMetrics sets the globs for enabled and polled collectors.
func WithMetrics(enabled, polled []string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = enabled
		g.polled = polled
	}
}

// NewGatherer creates a gatherer for the registry.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry:     prometheus.NewPedanticRegistry(),
		r:            r,
		pollInterval: DefaultPollInterval,
	}

	for _, o := range opts {
		o(g)
	}

	if _, err := r.Configure(g.enabled, g.polled); err != nil {
		return nil, err
	}

	if err := r.register(g.Registry, g.namespace); err != nil {
		return nil, err
	}

	g.start()

	return g, nil
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	return g.Registry.Gather()
}

// Poll polls all enabled collectors in polled mode.
func (g *Gatherer) Poll() {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.r.Poll()
}

// WriteText gathers metrics and writes them in the prometheus text format.
func (g *Gatherer) WriteText(w io.Writer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: failed to gather: %w", err)
	}

	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: failed to write %s: %w", mf.GetName(), err)
		}
	}

	return nil
}

func (g *Gatherer) start() {
	if !g.r.State().IsPolled() {
		log.Info("no polling (no collectors in polled mode)")
		return
	}

	g.Poll()

	if g.pollInterval == 0 {
		log.Info("no periodic polling (disabled)")
		return
	}

	log.Info("polling collectors every %s", g.pollInterval)

	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})

	go func() {
		ticker := time.NewTicker(g.pollInterval)
		defer func() {
			ticker.Stop()
			close(g.doneCh)
		}()

		for {
			select {
			case <-g.stopCh:
				return
			case <-ticker.C:
				g.Poll()
			}
		}
	}()
}

// Stop stops periodic polling.
func (g *Gatherer) Stop() {
	if g.stopCh == nil {
		return
	}
	close(g.stopCh)
	<-g.doneCh
	g.stopCh = nil
}
