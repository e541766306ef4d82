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

package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/devmem/cachealloc/pkg/instrumentation/tracing"
)

func TestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := tracing.StartSpan(context.Background(), "parent",
		tracing.WithAttributes(tracing.Attribute("class", "device")))
	_, child := tracing.StartSpan(ctx, "child")
	child.SetAttributes(tracing.Attribute("blocks", 3))
	child.End(tracing.WithStatus(errors.New("failed")))
	span.End(tracing.WithStatus(nil))

	ended := rec.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, "child", ended[0].Name())
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Equal(t, "parent", ended[1].Name())
	require.Equal(t, codes.Ok, ended[1].Status().Code)
	require.Equal(t, ended[1].SpanContext().TraceID(), ended[0].SpanContext().TraceID())
}

func TestNilSpan(t *testing.T) {
	var s *tracing.Span
	s.SetAttributes(tracing.Attribute("x", "y"))
	s.SetStatus(errors.New("ignored"))
	s.End()
}

func TestAttribute(t *testing.T) {
	require.Equal(t, "<nil>", tracing.Attribute("k", nil).Value.AsString())
	require.Equal(t, int64(7), tracing.Attribute("k", 7).Value.AsInt64())
	require.Equal(t, true, tracing.Attribute("k", true).Value.AsBool())
	require.Equal(t, "[1 2]", tracing.Attribute("k", []int{1, 2}).Value.AsString())
}

func TestStartWithoutEndpoint(t *testing.T) {
	require.NoError(t, tracing.Start(tracing.WithCollectorEndpoint("")))
	require.Error(t, tracing.Start(tracing.WithSamplingRatio(2.0)))
	tracing.Stop()
}
