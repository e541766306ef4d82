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

// Package healthz serves the combined status of registered health checkers.
package healthz

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	logger "github.com/devmem/cachealloc/pkg/log"
)

var (
	lock     sync.Mutex
	checkers = map[string]CheckFn{}
	log      = logger.NewLogger("health-check")
)

// CheckFn checks the health of a component.
type CheckFn func() (status Status, details error)

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("<unknown health status %d>", s)
}

// Setup prepares the given HTTP request multiplexer for serving healthz.
func Setup(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", serve)
}

// serve serves a single HTTP request.
func serve(w http.ResponseWriter, _ *http.Request) {
	status, details := Check()

	var (
		code = http.StatusOK
		body = "ok"
	)

	if status != Healthy {
		names := make([]string, 0, len(details))
		for name := range details {
			names = append(names, name)
		}
		sort.Strings(names)

		var sb strings.Builder
		fmt.Fprintf(&sb, "%s\n", status)
		for _, name := range names {
			fmt.Fprintf(&sb, "%s: %v\n", name, details[name])
		}

		body = sb.String()
		if status == NonFunctional {
			code = http.StatusInternalServerError
		}
	}

	w.WriteHeader(code)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

// RegisterHealthChecker registers the given health checker function.
func RegisterHealthChecker(name string, fn CheckFn) {
	lock.Lock()
	defer lock.Unlock()

	if _, conflict := checkers[name]; conflict {
		log.Panic("checker %q already registered", name)
	}

	checkers[name] = fn
}

// UnregisterHealthChecker removes the named health checker.
func UnregisterHealthChecker(name string) {
	lock.Lock()
	defer lock.Unlock()

	delete(checkers, name)
}

// Check runs all health checkers, returning the worst status and the
// details reported by unhealthy checkers.
func Check() (Status, map[string]error) {
	status := Healthy
	details := map[string]error{}

	lock.Lock()
	defer lock.Unlock()

	for name, fn := range checkers {
		s, err := fn()
		if s == Healthy {
			continue
		}
		status = max(status, s)
		if err == nil {
			err = fmt.Errorf("%s", s)
		}
		details[name] = err
		log.Warn("component %s reported %s: %v", name, s, err)
	}

	return status, details
}
