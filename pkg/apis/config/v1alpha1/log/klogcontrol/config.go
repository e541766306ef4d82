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

package klogcontrol

import (
	"strconv"
)

// Config provides runtime configuration for klog.
// +k8s:deepcopy-gen=true
type Config struct {
	// If true, adds the file directory to the header of the log messages.
	// +optional
	Add_dir_header *bool `json:"add_dir_header,omitempty"`
	// If true, log to standard error as well as files.
	// +optional
	Alsologtostderr *bool `json:"alsologtostderr,omitempty"`
	// When logging hits line file:N, emit a stack trace.
	// +optional
	Log_backtrace_at *string `json:"log_backtrace_at,omitempty"`
	// If non-empty, write log files in this directory.
	// +optional
	Log_dir *string `json:"log_dir,omitempty"`
	// If non-empty, use this log file.
	// +optional
	Log_file *string `json:"log_file,omitempty"`
	// Defines the maximum size a log file can grow to. Unit is megabytes.
	// +optional
	Log_file_max_size *uint64 `json:"log_file_max_size,omitempty"`
	// Log to standard error instead of files.
	// +optional
	Logtostderr *bool `json:"logtostderr,omitempty"`
	// If true, avoid header prefixes in the log messages.
	// +optional
	Skip_headers *bool `json:"skip_headers,omitempty"`
	// If true, avoid headers when opening log files.
	// +optional
	Skip_log_headers *bool `json:"skip_log_headers,omitempty"`
	// Logs at or above this threshold go to stderr.
	// +optional
	Stderrthreshold *string `json:"stderrthreshold,omitempty"`
	// Number for the log level verbosity.
	// +optional
	V *int `json:"v,omitempty"`
	// Comma-separated list of pattern=N settings for file-filtered logging.
	// +optional
	Vmodule *string `json:"vmodule,omitempty"`
}

// GetByFlag returns the value of the configuration field for the given klog
// flag name, if it is set.
func (c *Config) GetByFlag(name string) (string, bool) {
	if c == nil {
		return "", false
	}

	switch name {
	case "add_dir_header":
		return boolValue(c.Add_dir_header)
	case "alsologtostderr":
		return boolValue(c.Alsologtostderr)
	case "log_backtrace_at":
		return stringValue(c.Log_backtrace_at)
	case "log_dir":
		return stringValue(c.Log_dir)
	case "log_file":
		return stringValue(c.Log_file)
	case "log_file_max_size":
		if c.Log_file_max_size == nil {
			return "", false
		}
		return strconv.FormatUint(*c.Log_file_max_size, 10), true
	case "logtostderr":
		return boolValue(c.Logtostderr)
	case "skip_headers":
		return boolValue(c.Skip_headers)
	case "skip_log_headers":
		return boolValue(c.Skip_log_headers)
	case "stderrthreshold":
		return stringValue(c.Stderrthreshold)
	case "v":
		if c.V == nil {
			return "", false
		}
		return strconv.Itoa(*c.V), true
	case "vmodule":
		return stringValue(c.Vmodule)
	}

	return "", false
}

func boolValue(b *bool) (string, bool) {
	if b == nil {
		return "", false
	}
	return strconv.FormatBool(*b), true
}

func stringValue(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}
