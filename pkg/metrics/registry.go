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
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a collection of groups of named collectors.
type Registry struct {
	sync.Mutex
	groups map[string][]*Collector
}

// RegisterOptions are options for registering collectors.
type RegisterOptions struct {
	group string
	copts []CollectorOption
}

// RegisterOption is an option for registering collectors.
type RegisterOption func(*RegisterOptions)

// WithGroup registers a collector in the given group.
func WithGroup(name string) RegisterOption {
	return func(o *RegisterOptions) {
		if name == "" {
			name = DefaultName
		}
		o.group = name
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(opts ...CollectorOption) RegisterOption {
	return func(o *RegisterOptions) {
		o.copts = append(o.copts, opts...)
	}
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string][]*Collector),
	}
}

// Register registers a named collector.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	options := &RegisterOptions{group: DefaultName}
	for _, o := range opts {
		o(options)
	}

	c := NewCollector(name, collector, options.copts...)
	c.group = options.group

	r.Lock()
	defer r.Unlock()

	for _, old := range r.groups[c.group] {
		if old.name == name {
			return fmt.Errorf("metrics: collector %q already registered", c.Name())
		}
	}

	r.groups[c.group] = append(r.groups[c.group], c)
	log.Info("registered collector %q", c.Name())

	return nil
}

// Configure enables collectors matching any glob in enabled and disables
// the rest. Collectors matching any glob in polled are enabled and switched
// to polled mode. It is an error if a glob matches no collectors.
func (r *Registry) Configure(enabled, polled []string) (State, error) {
	log.Info("configuring collectors enabled=[%s], polled=[%s]",
		strings.Join(enabled, ","), strings.Join(polled, ","))

	r.Lock()
	defer r.Unlock()

	var (
		state State
		match = map[string]struct{}{}
	)

	for _, c := range r.collectors() {
		c.enable(false)
		for _, glob := range enabled {
			if c.Matches(glob) {
				match[glob] = struct{}{}
				c.enable(true)
			}
		}
		for _, glob := range polled {
			if c.Matches(glob) {
				match[glob] = struct{}{}
				c.enable(true)
				c.setPolled()
			}
		}
		state |= c.State()
		log.Debug("collector %q now %s", c.Name(), c.State())
	}

	var unmatched []string
	for _, glob := range append(append([]string{}, enabled...), polled...) {
		if _, ok := match[glob]; !ok {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return state, fmt.Errorf("metrics: no collectors match globs %s",
			strings.Join(unmatched, ", "))
	}

	return state, nil
}

// Poll polls all enabled collectors in polled mode.
func (r *Registry) Poll() {
	r.Lock()
	collectors := r.collectors()
	r.Unlock()

	wg := sync.WaitGroup{}
	for _, c := range collectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Poll()
		}()
	}
	wg.Wait()
}

// State returns the combined state of all collectors.
func (r *Registry) State() State {
	r.Lock()
	defer r.Unlock()

	var state State
	for _, c := range r.collectors() {
		state |= c.State()
	}
	return state
}

// collectors returns all collectors sorted by name. The caller must hold
// the lock.
func (r *Registry) collectors() []*Collector {
	var all []*Collector
	for _, grp := range r.groups {
		all = append(all, grp...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	return all
}

// register registers all collectors with a prometheus registry.
func (r *Registry) register(reg prometheus.Registerer, namespace string) error {
	r.Lock()
	defer r.Unlock()

	for _, c := range r.collectors() {
		var (
			state = c.State()
			pr    = reg
		)
		if state.NeedsNamespace() {
			pr = prefixedRegisterer(namespace, pr)
		}
		if state.NeedsSubsystem() {
			pr = prefixedRegisterer(c.group, pr)
		}
		if err := pr.Register(c); err != nil {
			return fmt.Errorf("metrics: failed to register %q: %w", c.Name(), err)
		}
	}

	return nil
}

func prefixedRegisterer(prefix string, reg prometheus.Registerer) prometheus.Registerer {
	if prefix != "" {
		return prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
	}
	return reg
}

var (
	defaultLock     sync.Mutex
	defaultRegistry *Registry
)

// Default returns the default registry.
func Default() *Registry {
	defaultLock.Lock()
	defer defaultLock.Unlock()

	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// Register registers a collector with the default registry.
func Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	return Default().Register(name, collector, opts...)
}

// MustRegister registers a collector with the default registry, panicking
// on error.
func MustRegister(name string, collector prometheus.Collector, opts ...RegisterOption) {
	if err := Register(name, collector, opts...); err != nil {
		panic(err)
	}
}

// NewGatherer creates a gatherer for the default registry.
func NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	return Default().NewGatherer(opts...)
}
