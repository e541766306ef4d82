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
	"sync"

	cfgapi "github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/allocator"
	"github.com/devmem/cachealloc/pkg/device"
)

var (
	defaultLock     sync.RWMutex
	defaultRegistry *Registry
)

// Init sets up the process-wide registry. The builtin policies are
// registered for each runtime and the configured policies are activated.
func Init(cfg *cfgapi.Config, runtimes ...device.Runtime) error {
	if cfg == nil {
		cfg = cfgapi.Default()
	}

	r, err := NewConfiguredRegistry(cfg, runtimes...)
	if err != nil {
		return err
	}

	defaultLock.Lock()
	defer defaultLock.Unlock()

	if defaultRegistry != nil {
		return allocatorError("already initialized")
	}
	defaultRegistry = r

	return nil
}

// NewConfiguredRegistry creates a registry with the builtin policies
// registered for each runtime and the configured policies activated.
func NewConfiguredRegistry(cfg *cfgapi.Config, runtimes ...device.Runtime) (*Registry, error) {
	r := NewRegistry()
	r.SetAlgorithm(device.ClassDevice, cfg.DeviceAlgorithm)
	r.SetAlgorithm(device.ClassHost, cfg.HostAlgorithm)

	opts := []BSOption{
		WithAlignment(cfg.AlignmentBytes()),
		WithEventCompactionThreshold(cfg.CompactionThreshold()),
	}

	for _, rt := range runtimes {
		if err := RegisterBuiltins(r, NewRawAllocator(rt), 0, opts...); err != nil {
			return nil, err
		}
	}

	for _, class := range r.Classes() {
		a, err := r.Get(class)
		if err != nil {
			return nil, err
		}
		log.Info("using allocator %q for %s memory", a.Name(), class)
	}

	return r, nil
}

// Default returns the process-wide registry, or nil if it is not set up.
func Default() *Registry {
	defaultLock.RLock()
	defer defaultLock.RUnlock()
	return defaultRegistry
}

// Shutdown releases all memory of the process-wide registry and tears it
// down.
func Shutdown() error {
	defaultLock.Lock()
	r := defaultRegistry
	defaultRegistry = nil
	defaultLock.Unlock()

	if r == nil {
		return ErrNotInitialized
	}

	return r.Shutdown()
}

func getDefault() (*Registry, error) {
	if r := Default(); r != nil {
		return r, nil
	}
	return nil, ErrNotInitialized
}

// Register registers a policy instance with the process-wide registry.
func Register(class device.Class, name string, a CacheAllocator, priority uint8) error {
	r, err := getDefault()
	if err != nil {
		return err
	}
	return r.Register(class, name, a, priority)
}

// Allocate allocates memory from the active policy of the process-wide
// registry.
func Allocate(class device.Class, size int64) (*Handle, error) {
	r, err := getDefault()
	if err != nil {
		return nil, err
	}
	return r.Allocate(class, size)
}

// Trim drops cached memory of the active policy of the process-wide
// registry.
func Trim(class device.Class) error {
	r, err := getDefault()
	if err != nil {
		return err
	}
	return r.Trim(class)
}

// ReleaseAll releases all memory of the active policy of the process-wide
// registry.
func ReleaseAll(class device.Class) error {
	r, err := getDefault()
	if err != nil {
		return err
	}
	return r.ReleaseAll(class)
}
