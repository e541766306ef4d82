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
	"path"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/devmem/cachealloc/pkg/log"
)

var (
	log  = logger.Get("metrics")
	clog = logger.Get("collector")
)

// State is the configuration of a collector or a group of collectors.
type State int

const (
	// Enabled marks a collector as enabled.
	Enabled State = (1 << iota)
	// Polled marks a collector as polled.
	Polled
	// NamespacePrefix prefixes the metrics of a collector with the namespace.
	NamespacePrefix
	// SubsystemPrefix prefixes the metrics of a collector with its group name.
	SubsystemPrefix

	// DefaultName is the name of the default group.
	DefaultName = "default"
)

// IsEnabled returns true if the collector is enabled.
func (s State) IsEnabled() bool {
	return s&Enabled != 0
}

// IsPolled returns true if the collector is polled.
func (s State) IsPolled() bool {
	return s&Polled != 0
}

// NeedsNamespace returns true if the collector needs a namespace prefix.
func (s State) NeedsNamespace() bool {
	return s&NamespacePrefix != 0
}

// NeedsSubsystem returns true if the collector needs a group prefix.
func (s State) NeedsSubsystem() bool {
	return s&SubsystemPrefix != 0
}

func (s State) String() string {
	flags := []string{"disabled"}
	if s.IsEnabled() {
		flags[0] = "enabled"
	}
	if s.IsPolled() {
		flags = append(flags, "polled")
	}
	if s.NeedsNamespace() {
		flags = append(flags, "namespace-prefixed")
	}
	if s.NeedsSubsystem() {
		flags = append(flags, "subsystem-prefixed")
	}
	return strings.Join(flags, ",")
}

// Collector is a named prometheus.Collector in a group.
type Collector struct {
	sync.Mutex
	collector prometheus.Collector
	name      string
	group     string
	state     State
	lastpoll  []prometheus.Metric
}

// CollectorOption is an option for a Collector.
type CollectorOption func(*Collector)

// WithoutNamespace disables namespace prefixing for a collector.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.state &^= NamespacePrefix
	}
}

// WithoutSubsystem disables group prefixing for a collector.
func WithoutSubsystem() CollectorOption {
	return func(c *Collector) {
		c.state &^= SubsystemPrefix
	}
}

// WithPolled marks a collector polled.
func WithPolled() CollectorOption {
	return func(c *Collector) {
		c.state |= Polled
	}
}

// NewCollector creates a new named collector.
func NewCollector(name string, collector prometheus.Collector, options ...CollectorOption) *Collector {
	c := &Collector{
		name:      name,
		collector: collector,
		state:     Enabled | NamespacePrefix | SubsystemPrefix,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Name returns the fully qualified name of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// State returns the state of the collector.
func (c *Collector) State() State {
	c.Lock()
	defer c.Unlock()
	return c.state
}

// Matches returns true if the glob matches the group, the name or the
// fully qualified name of the collector.
func (c *Collector) Matches(glob string) bool {
	for _, name := range []string{c.group, c.name, c.Name()} {
		if glob == name {
			return true
		}
		ok, err := path.Match(glob, name)
		if err != nil {
			log.Warn("invalid glob pattern %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.Lock()
	state, lastpoll := c.state, c.lastpoll
	c.Unlock()

	switch {
	case !state.IsEnabled():
	case !state.IsPolled():
		clog.Debug("collecting %q", c.Name())
		c.collector.Collect(ch)
	default:
		clog.Debug("collecting (polled) %q", c.Name())
		for _, m := range lastpoll {
			ch <- m
		}
	}
}

// Poll collects and caches the metrics of a polled collector.
func (c *Collector) Poll() {
	if s := c.State(); !s.IsEnabled() || !s.IsPolled() {
		return
	}

	clog.Debug("polling %q", c.Name())

	ch := make(chan prometheus.Metric, 32)
	go func() {
		c.collector.Collect(ch)
		close(ch)
	}()

	var polled []prometheus.Metric
	for m := range ch {
		polled = append(polled, m)
	}

	c.Lock()
	c.lastpoll = polled
	c.Unlock()
}

func (c *Collector) enable(state bool) {
	c.Lock()
	defer c.Unlock()
	if state {
		c.state |= Enabled
	} else {
		c.state &^= Enabled
	}
}

func (c *Collector) setPolled() {
	c.Lock()
	defer c.Unlock()
	c.state |= Polled
}
