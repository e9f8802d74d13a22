// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()

	if cfg.ServiceName != "aleutian-tot" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "aleutian-tot")
	}
	if cfg.TraceExporter != ExporterNone {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, ExporterNone)
	}
	if cfg.MetricExporter != ExporterPrometheus {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, ExporterPrometheus)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.SampleRate)
	}
}

func TestDefaultConfig_Env(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	if got := DefaultConfig().TraceExporter; got != "stdout" {
		t.Errorf("TraceExporter = %q, want stdout", got)
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	if err != ErrNilContext {
		t.Errorf("Init(nil) error = %v, want %v", err, ErrNilContext)
	}
}

func TestInit_NoExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_StdoutTraces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterStdout
	cfg.MetricExporter = ExporterNone

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), cfg, WithWriter(&buf))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, span := StartSpan(context.Background(), "tot.test", "unit")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"Name": "unit"`) {
		t.Errorf("span not exported, got %q", buf.String())
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name   string
		trace  string
		metric string
	}{
		{"trace", "zipkin", ExporterNone},
		{"metric", ExporterNone, "graphite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = tt.trace
			cfg.MetricExporter = tt.metric
			_, err := Init(context.Background(), cfg)
			if !errors.Is(err, ErrUnknownExporter) {
				t.Errorf("Init() error = %v, want ErrUnknownExporter", err)
			}
		})
	}
}

func TestInit_PrometheusRegistry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterPrometheus

	reg := prometheus.NewRegistry()
	shutdown, err := Init(context.Background(), cfg, WithRegistry(reg))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	counter, err := otel.Meter("tot.test").Int64Counter("tot_test_events_total")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 3)

	handler := MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() = nil")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "tot_test_events") {
		t.Errorf("metric missing from exposition:\n%s", rec.Body.String())
	}
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	if got := LoggerWithTrace(context.Background(), base); got != base {
		t.Error("expected base logger without a span")
	}

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("tot.test").Start(context.Background(), "op")
	defer span.End()

	LoggerWithRun(ctx, base, "run-1").Info("hello")
	out := buf.String()
	for _, want := range []string{`"trace_id"`, `"span_id"`, `"run_id":"run-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
	if TraceID(ctx) == "" {
		t.Error("TraceID() empty inside a span")
	}
	if TraceID(context.Background()) != "" {
		t.Error("TraceID() not empty outside a span")
	}
}
