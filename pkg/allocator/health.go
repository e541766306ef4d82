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
	"github.com/hashicorp/go-multierror"

	"github.com/devmem/cachealloc/pkg/healthz"
)

// HealthCheck reports the health of the registry. The registry is not
// functional if the active policy of a class cannot be resolved, and is
// degraded if any raw allocator has run out of memory.
func (r *Registry) HealthCheck() (healthz.Status, error) {
	var (
		status = healthz.Healthy
		errs   *multierror.Error
	)

	for _, class := range r.Classes() {
		a, err := r.Get(class)
		if err != nil {
			status = healthz.NonFunctional
			errs = multierror.Append(errs, err)
			continue
		}

		if raw := a.RawAllocator(); raw != nil {
			if s := raw.Stats(); s.Failures > 0 {
				status = max(status, healthz.Degraded)
				errs = multierror.Append(errs,
					allocatorError("%s memory: %d failed allocations", class, s.Failures))
			}
		}
	}

	return status, errs.ErrorOrNil()
}
