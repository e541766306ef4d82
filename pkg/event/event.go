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

// Package event implements completion tokens: host-side handles telling
// whether a point in an asynchronous stream of device work has been reached.
package event

import (
	"github.com/devmem/cachealloc/pkg/device"
)

// StreamSource provides the stream work is currently issued on.
type StreamSource interface {
	CurrentStream() device.Stream
}

// Event is a completion token. The zero point, nothing recorded, is
// complete.
type Event struct {
	src      StreamSource
	recorded device.Event
}

// New creates an event which records on the current stream of src.
func New(src StreamSource) *Event {
	return &Event{src: src}
}

// Record marks all work issued so far on the current stream as the point
// to wait for, replacing any previously recorded point.
func (e *Event) Record() {
	e.recorded = e.src.CurrentStream().Record()
}

// Query checks without blocking whether the recorded point has been reached.
func (e *Event) Query() bool {
	return e.recorded == nil || e.recorded.Query()
}

// Synchronize blocks until the recorded point has been reached.
func (e *Event) Synchronize() {
	if e.recorded != nil {
		e.recorded.Synchronize()
	}
}

// Recorded returns true if a point has been recorded.
func (e *Event) Recorded() bool {
	return e.recorded != nil
}
