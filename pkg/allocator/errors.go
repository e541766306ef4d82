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

import "fmt"

var (
	ErrPriorityConflict = fmt.Errorf("allocator: allocator with higher or equal priority already registered")
	ErrUnknownPolicy    = fmt.Errorf("allocator: no allocator registered")
	ErrNilAllocator     = fmt.Errorf("allocator: nil allocator")
	ErrNoMem            = fmt.Errorf("allocator: insufficient device memory")
	ErrInvalidSize      = fmt.Errorf("allocator: invalid allocation size")
	ErrNotInitialized   = fmt.Errorf("allocator: not initialized")
	ErrLeak             = fmt.Errorf("allocator: leaked memory")
)

// allocatorError returns a formatted package-specific error.
func allocatorError(format string, args ...interface{}) error {
	return fmt.Errorf("allocator: "+format, args...)
}
