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

package tracing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	logger "github.com/devmem/cachealloc/pkg/log"
	"github.com/devmem/cachealloc/pkg/version"
)

// Option represents an option which can be applied to tracing.
type Option func(*tracing) error

type tracing struct {
	service  string
	endpoint string
	sampling float64
	exporter sdktrace.SpanExporter
	provider *sdktrace.TracerProvider
}

var (
	log = logger.Get("tracing")
	trc = &tracing{
		service: filepath.Base(os.Args[0]),
	}
)

const (
	// TracerName is the name of the tracer used for our spans.
	TracerName = "github.com/devmem/cachealloc"
	// timeout for shutting down exporters and providers
	shutdownTimeout = 5 * time.Second
	// default OTLP/HTTP collector endpoint
	defaultHTTPEndpoint = "localhost:4318"
)

// WithCollectorEndpoint sets the given collector endpoint. The endpoint is
// either an http(s) URL or "otlp-http" for the default local collector.
func WithCollectorEndpoint(endpoint string) Option {
	return func(t *tracing) error {
		t.endpoint = endpoint
		return nil
	}
}

// WithSamplingRatio sets the given sampling ratio.
func WithSamplingRatio(ratio float64) Option {
	return func(t *tracing) error {
		if ratio < 0.0 || ratio > 1.0 {
			return fmt.Errorf("invalid sampling ratio %f", ratio)
		}
		t.sampling = ratio
		return nil
	}
}

// WithServiceName sets the service name reported for tracing.
func WithServiceName(name string) Option {
	return func(t *tracing) error {
		t.service = name
		return nil
	}
}

// Start tracing.
func Start(options ...Option) error {
	return trc.start(options...)
}

// Stop tracing.
func Stop() {
	trc.shutdown()
}

func (t *tracing) start(options ...Option) error {
	t.shutdown()

	for _, opt := range options {
		if err := opt(t); err != nil {
			return fmt.Errorf("failed to set tracing option: %w", err)
		}
	}

	switch {
	case t.endpoint == "":
		log.Info("tracing disabled, no endpoint set")
		return nil
	case t.sampling == 0.0:
		log.Info("tracing disabled, sampling ratio is 0.0")
		return nil
	}

	log.Info("starting tracing exporter for %s...", t.endpoint)

	exporter, err := newExporter(t.endpoint)
	if err != nil {
		return fmt.Errorf("failed to start tracing exporter: %w", err)
	}

	hostname, _ := os.Hostname()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(t.service),
		semconv.HostName(hostname),
		semconv.ProcessPID(os.Getpid()),
		attribute.String("version", version.Version),
		attribute.String("build", version.Build),
	)

	t.exporter = exporter
	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(t.sampling)),
	)

	otel.SetTracerProvider(t.provider)

	return nil
}

func (t *tracing) shutdown() {
	if t.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.provider.ForceFlush(ctx); err != nil {
		log.Errorf("failed to flush tracer provider: %v", err)
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		log.Errorf("failed to shut down tracer provider: %v", err)
	}

	t.provider = nil
	t.exporter = nil
}

func newExporter(endpoint string) (sdktrace.SpanExporter, error) {
	var options []otlptracehttp.Option

	switch endpoint {
	case "otlp-http", "http":
		options = append(options,
			otlptracehttp.WithEndpoint(defaultHTTPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid tracing endpoint %q: %w", endpoint, err)
		}
		switch u.Scheme {
		case "http":
			options = append(options, otlptracehttp.WithInsecure())
		case "https":
		default:
			return nil, fmt.Errorf("unsupported tracing endpoint %q", endpoint)
		}
		options = append(options, otlptracehttp.WithEndpoint(u.Host))
		if u.Path != "" {
			options = append(options, otlptracehttp.WithURLPath(u.Path))
		}
	}

	return otlptracehttp.New(context.Background(), options...)
}
