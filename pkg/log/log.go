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

package log

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level describes the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})

	// Infof is an alias for Info.
	Infof(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Errorf is an alias for Error.
	Errorf(format string, args ...interface{})

	// Println emits an error message, for use as promhttp.Logger.
	Println(args ...interface{})

	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool
	// EnableDebug enables or disables debug messages for this Logger,
	// returning the previous state.
	EnableDebug(bool) bool
	// Source returns the source name of this Logger.
	Source() string

	// SlogHandler returns a log/slog handler emitting through this Logger.
	SlogHandler() slog.Handler
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// logging tracks the state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level             // lowest severity emitted
	dbgmap  srcmap            // debug settings from configuration
	debug   map[string]bool   // effective debug state per source
	prefix  bool              // whether to prefix messages with the source
	loggers map[string]logger // loggers by source
	maxlen  int               // longest source name, for aligned prefixes
}

var (
	// log is our logging state.
	log = &logging{
		level:   DefaultLevel,
		dbgmap:  make(srcmap),
		debug:   make(map[string]bool),
		loggers: make(map[string]logger),
	}
	// deflog is the default logger.
	deflog = log.get("default")
)

// Get returns the named Logger, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// EnableDebug enables or disables debug messages for the given source.
func EnableDebug(source string, state bool) bool {
	return log.get(source).EnableDebug(state)
}

// DebugEnabled checks if debug messages are enabled for the given source.
func DebugEnabled(source string) bool {
	return log.get(source).DebugEnabled()
}

func (l *logging) get(source string) logger {
	l.RLock()
	if lg, ok := l.loggers[source]; ok {
		l.RUnlock()
		return lg
	}
	l.RUnlock()

	l.Lock()
	defer l.Unlock()

	if lg, ok := l.loggers[source]; ok {
		return lg
	}

	lg := logger{source: source}
	l.loggers[source] = lg
	if len(source) > l.maxlen {
		l.maxlen = len(source)
	}
	l.debug[source] = l.dbgmap.enabled(source)

	return lg
}

// setDbgMap updates the debug source map and the state of all loggers.
// The caller must hold the lock.
func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
	for source := range l.loggers {
		l.debug[source] = m.enabled(source)
	}
}

// setPrefix turns source prefixing on or off. The caller must hold the lock.
func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

func (l *logging) debugEnabled(source string) bool {
	l.RLock()
	defer l.RUnlock()
	return l.debug[source]
}

func (l *logging) format(source, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)

	l.RLock()
	prefix, maxlen := l.prefix, l.maxlen
	l.RUnlock()

	if !prefix {
		return msg
	}

	pad := maxlen - len(source)
	if pad < 0 {
		pad = 0
	}
	return "[" + source + "] " + strings.Repeat(" ", pad) + msg
}

// enabled returns the configured debug state for the given source.
func (m srcmap) enabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return false
}

func (lg logger) Debug(format string, args ...interface{}) {
	if !lg.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, "D: "+format, args...))
}

func (lg logger) Info(format string, args ...interface{}) {
	if log.level > LevelInfo {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Warn(format string, args ...interface{}) {
	if log.level > LevelWarn {
		return
	}
	klog.WarningDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Fatal(format string, args ...interface{}) {
	klog.FatalDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Panic(format string, args ...interface{}) {
	msg := log.format(lg.source, format, args...)
	klog.ErrorDepth(1, msg)
	panic(msg)
}

func (lg logger) Infof(format string, args ...interface{}) {
	lg.Info(format, args...)
}

func (lg logger) Warnf(format string, args ...interface{}) {
	lg.Warn(format, args...)
}

func (lg logger) Errorf(format string, args ...interface{}) {
	lg.Error(format, args...)
}

func (lg logger) Println(args ...interface{}) {
	klog.ErrorDepth(1, log.format(lg.source, "%s", strings.TrimSuffix(fmt.Sprintln(args...), "\n")))
}

func (lg logger) DebugEnabled() bool {
	return log.debugEnabled(lg.source)
}

func (lg logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	prev := log.debug[lg.source]
	log.debug[lg.source] = state
	return prev
}

func (lg logger) Source() string {
	return lg.source
}

// loggerError returns a formatted package-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
