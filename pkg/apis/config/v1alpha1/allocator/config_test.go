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

package allocator_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/devmem/cachealloc/pkg/apis/config/v1alpha1/allocator"
)

func TestDefault(t *testing.T) {
	cfg := cfgapi.Default()
	require.Equal(t, "BS", cfg.DeviceAlgorithm)
	require.Equal(t, "BS", cfg.HostAlgorithm)
	require.Equal(t, int64(512), cfg.AlignmentBytes())
	require.Equal(t, 64, cfg.CompactionThreshold())
	require.Equal(t, 30*time.Second, cfg.Instrumentation.ReportPeriod.Duration)
	require.NoError(t, cfg.Validate())
}

func TestNilConfig(t *testing.T) {
	var cfg *cfgapi.Config
	require.Equal(t, int64(cfgapi.DefaultAlignment), cfg.AlignmentBytes())
	require.Equal(t, cfgapi.DefaultEventCompactionThreshold, cfg.CompactionThreshold())
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name      string
		yaml      string
		invalid   bool
		device    string
		host      string
		alignment int64
		threshold int
	}{
		{
			name:      "empty",
			yaml:      "",
			device:    "BS",
			host:      "BS",
			alignment: 512,
			threshold: 64,
		},
		{
			name: "everything",
			yaml: `
deviceAlgorithm: RAW
hostAlgorithm: BS
alignment: 1Ki
eventCompactionThreshold: 8
log:
  debug: [bs-alloc, raw-alloc]
  source: true
instrumentation:
  httpEndpoint: ":8891"
  prometheusExport: true
  reportPeriod: 10s
  metrics:
    enabled: [allocator, standard]
`,
			device:    "RAW",
			host:      "BS",
			alignment: 1024,
			threshold: 8,
		},
		{
			name:      "plain number alignment",
			yaml:      "alignment: 256",
			device:    "BS",
			host:      "BS",
			alignment: 256,
			threshold: 64,
		},
		{
			name:    "zero alignment",
			yaml:    "alignment: 0",
			invalid: true,
		},
		{
			name:    "negative threshold",
			yaml:    "eventCompactionThreshold: -1",
			invalid: true,
		},
		{
			name:    "unknown field",
			yaml:    "algorithm: BS",
			invalid: true,
		},
		{
			name:    "bad sampling rate",
			yaml:    "instrumentation: {samplingRatePerMillion: 2000000}",
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := cfgapi.Parse([]byte(tc.yaml))
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.device, cfg.DeviceAlgorithm)
			require.Equal(t, tc.host, cfg.HostAlgorithm)
			require.Equal(t, tc.alignment, cfg.AlignmentBytes())
			require.Equal(t, tc.threshold, cfg.CompactionThreshold())
		})
	}
}

func TestParseLogAndInstrumentation(t *testing.T) {
	cfg, err := cfgapi.Parse([]byte(`
log:
  debug: [bs-alloc]
  source: true
instrumentation:
  httpEndpoint: ":8891"
  reportPeriod: 10s
  metrics:
    enabled: [allocator, standard]
    polled: [standard]
`))
	require.NoError(t, err)
	require.Equal(t, []string{"bs-alloc"}, cfg.Log.Debug)
	require.True(t, cfg.Log.LogSource)
	require.Equal(t, ":8891", cfg.Instrumentation.HTTPEndpoint)
	require.Equal(t, 10*time.Second, cfg.Instrumentation.ReportPeriod.Duration)
	require.Equal(t, []string{"allocator", "standard"}, cfg.Instrumentation.Metrics.Enabled)
	require.Equal(t, []string{"standard"}, cfg.Instrumentation.Metrics.Polled)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deviceAlgorithm: RAW\n"), 0o644))

	cfg, err := cfgapi.Load(path)
	require.NoError(t, err)
	require.Equal(t, "RAW", cfg.DeviceAlgorithm)

	_, err = cfgapi.Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing.yaml")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("alignment: -1\n"), 0o644))
	_, err = cfgapi.Load(bad)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad.yaml")
}
