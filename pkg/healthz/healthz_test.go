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

package healthz_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devmem/cachealloc/pkg/healthz"
)

func TestHealthz(t *testing.T) {
	var (
		status  = healthz.Healthy
		details error
	)

	healthz.RegisterHealthChecker("test", func() (healthz.Status, error) {
		return status, details
	})
	defer healthz.UnregisterHealthChecker("test")

	mux := http.NewServeMux()
	healthz.Setup(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func() (int, string) {
		rpl, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer rpl.Body.Close()
		body, err := io.ReadAll(rpl.Body)
		require.NoError(t, err)
		return rpl.StatusCode, string(body)
	}

	code, body := get()
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	status, details = healthz.Degraded, fmt.Errorf("running low")
	code, body = get()
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "degraded")
	require.Contains(t, body, "test: running low")

	status, details = healthz.NonFunctional, nil
	code, body = get()
	require.Equal(t, http.StatusInternalServerError, code)
	require.Contains(t, body, "test: non-functional")
}

func TestDuplicateChecker(t *testing.T) {
	fn := func() (healthz.Status, error) { return healthz.Healthy, nil }

	healthz.RegisterHealthChecker("dup", fn)
	defer healthz.UnregisterHealthChecker("dup")

	require.Panics(t, func() { healthz.RegisterHealthChecker("dup", fn) })
}
