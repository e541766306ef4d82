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
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/devmem/cachealloc/pkg/device"
)

// Registry maps classes of memory and policy names to policy instances.
type Registry struct {
	mu         sync.Mutex
	entries    map[device.Class]map[string]*Entry
	algorithms map[device.Class]string
}

// Entry is a registered policy instance.
type Entry struct {
	Class     device.Class
	Name      string
	Allocator CacheAllocator
	Priority  uint8
}

// NewRegistry creates a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:    make(map[device.Class]map[string]*Entry),
		algorithms: make(map[device.Class]string),
	}
}

// Register registers a policy instance for a class of memory with the given
// name. An existing registration with the same name is only replaced if it
// has lower priority.
func (r *Registry) Register(class device.Class, name string, a CacheAllocator, priority uint8) error {
	if a == nil {
		return fmt.Errorf("%w: %s allocator %q", ErrNilAllocator, class, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.entries[class]
	if !ok {
		byName = make(map[string]*Entry)
		r.entries[class] = byName
	}

	if e, ok := byName[name]; ok {
		if e.Priority >= priority {
			return fmt.Errorf("%w: %s allocator %q with priority %d, have priority %d",
				ErrPriorityConflict, class, name, priority, e.Priority)
		}
		log.Info("overriding %s allocator %q (priority %d -> %d)", class, name, e.Priority, priority)
	} else {
		log.Debug("registering %s allocator %q (priority %d)", class, name, priority)
	}

	byName[name] = &Entry{
		Class:     class,
		Name:      name,
		Allocator: a,
		Priority:  priority,
	}

	return nil
}

// MustRegister registers a policy instance, panicking on failure.
func (r *Registry) MustRegister(class device.Class, name string, a CacheAllocator, priority uint8) {
	if err := r.Register(class, name, a, priority); err != nil {
		log.Panic("%v", err)
	}
}

// SetAlgorithm sets the name of the active policy for a class of memory.
// An empty name selects the default policy.
func (r *Registry) SetAlgorithm(class device.Class, name string) {
	if name == "" {
		name = DefaultPolicy
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.algorithms[class] = name
}

// Algorithm returns the name of the active policy for a class of memory.
func (r *Registry) Algorithm(class device.Class) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.algorithm(class)
}

func (r *Registry) algorithm(class device.Class) string {
	if name, ok := r.algorithms[class]; ok {
		return name
	}
	return DefaultPolicy
}

// Resolve returns the policy registered for a class of memory by name.
func (r *Registry) Resolve(class device.Class, name string) (CacheAllocator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.resolve(class, name)
}

func (r *Registry) resolve(class device.Class, name string) (CacheAllocator, error) {
	if e, ok := r.entries[class][name]; ok {
		return e.Allocator, nil
	}
	return nil, fmt.Errorf("%w: %s allocator %q", ErrUnknownPolicy, class, name)
}

// Get returns the active policy for a class of memory.
func (r *Registry) Get(class device.Class) (CacheAllocator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.resolve(class, r.algorithm(class))
}

// Allocate allocates memory of the given class using the active policy.
func (r *Registry) Allocate(class device.Class, size int64) (*Handle, error) {
	a, err := r.Get(class)
	if err != nil {
		return nil, err
	}
	return a.Allocate(size)
}

// Trim drops the cached memory of the active policy for a class, if the
// policy caches memory.
func (r *Registry) Trim(class device.Class) error {
	a, err := r.Get(class)
	if err != nil {
		return err
	}

	if t, ok := a.(CacheTrimmer); ok {
		t.EmptyCache()
	} else {
		log.Debug("%s allocator %q has no cache to trim", class, a.Name())
	}

	return nil
}

// ReleaseAll releases all memory of the active policy for a class, if the
// policy supports it.
func (r *Registry) ReleaseAll(class device.Class) error {
	a, err := r.Get(class)
	if err != nil {
		return err
	}

	if m, ok := a.(MemoryReleaser); ok {
		m.ReleaseAllMemory()
	} else {
		log.Debug("%s allocator %q has no memory to release", class, a.Name())
	}

	return nil
}

// Entries returns the registered policies sorted by class and name.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []Entry
	for _, byName := range r.entries {
		for _, e := range byName {
			entries = append(entries, *e)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Class != entries[j].Class {
			return entries[i].Class < entries[j].Class
		}
		return entries[i].Name < entries[j].Name
	})

	return entries
}

// Classes returns the classes of memory with registered policies.
func (r *Registry) Classes() []device.Class {
	r.mu.Lock()
	defer r.mu.Unlock()

	classes := make([]device.Class, 0, len(r.entries))
	for class := range r.entries {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	return classes
}

// Shutdown releases all memory of all registered policies, checks their
// raw allocators for leaks, and clears the registry, including the policy
// selection of every class.
func (r *Registry) Shutdown() error {
	var (
		result   *multierror.Error
		released = map[CacheAllocator]struct{}{}
		checked  = map[*RawAllocator]struct{}{}
	)

	entries := r.Entries()
	for _, e := range entries {
		if _, ok := released[e.Allocator]; ok {
			continue
		}
		released[e.Allocator] = struct{}{}

		if m, ok := e.Allocator.(MemoryReleaser); ok {
			log.Debug("releasing all memory of %s allocator %q", e.Class, e.Name)
			m.ReleaseAllMemory()
		}
	}

	for _, e := range entries {
		raw := e.Allocator.RawAllocator()
		if raw == nil {
			continue
		}
		if _, ok := checked[raw]; ok {
			continue
		}
		checked[raw] = struct{}{}

		if err := raw.CheckLeaks(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	r.mu.Lock()
	r.entries = make(map[device.Class]map[string]*Entry)
	r.algorithms = make(map[device.Class]string)
	r.mu.Unlock()

	return result.ErrorOrNil()
}
