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

package sim

import (
	"sync"

	"github.com/devmem/cachealloc/pkg/device"
)

// Stream is a simulated stream. Work issued with Launch is pending until it
// is completed with Complete or CompleteAll, in issue order.
type Stream struct {
	dev       *Device
	id        int
	mu        sync.Mutex
	cond      *sync.Cond
	issued    uint64
	completed uint64
}

// Event is an event recorded on a simulated stream.
type Event struct {
	s   *Stream
	seq uint64
}

func newStream(d *Device, id int) *Stream {
	s := &Stream{dev: d, id: id}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the index of the stream on its device.
func (s *Stream) ID() int {
	return s.id
}

// Launch issues one unit of work on the stream and returns its sequence number.
func (s *Stream) Launch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Complete completes up to n units of pending work.
func (s *Stream) Complete(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeTo(s.completed + n)
}

// CompleteAll completes all pending work.
func (s *Stream) CompleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeTo(s.issued)
}

// Pending returns the amount of issued but not completed work.
func (s *Stream) Pending() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued - s.completed
}

func (s *Stream) completeTo(seq uint64) {
	if seq > s.issued {
		seq = s.issued
	}
	if seq > s.completed {
		s.completed = seq
		s.cond.Broadcast()
	}
}

// Record implements device.Stream.
func (s *Stream) Record() device.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Event{s: s, seq: s.issued}
}

// Query implements device.Event.
func (e *Event) Query() bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.s.completed >= e.seq
}

// Synchronize implements device.Event.
func (e *Event) Synchronize() {
	e.s.dev.syncs.Add(1)

	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	if e.s.dev.drainOnSync {
		e.s.completeTo(e.seq)
	}
	for e.s.completed < e.seq {
		e.s.cond.Wait()
	}
}
