// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "aleutian.tot.search"

// Tracer emits OpenTelemetry spans for a search run.
//
// When disabled every Start call returns a no-op span, so callers never
// branch on tracing.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer on the global provider.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartRun opens the span covering one instance.
func (t *Tracer) StartRun(ctx context.Context, task string, idx int, cfg Config) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "tot.run",
		trace.WithAttributes(
			attribute.String("tot.task", task),
			attribute.Int("tot.index", idx),
			attribute.Int("tot.breadth", cfg.Breadth),
			attribute.String("tot.generate", string(cfg.Generate)),
			attribute.String("tot.evaluate", string(cfg.Evaluate)),
			attribute.String("tot.select", string(cfg.Select)),
			attribute.String("tot.model", cfg.Model),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRun closes the run span with the outcome.
func (t *Tracer) EndRun(span trace.Span, res *Result, err error) {
	if res == nil {
		endSpan(span, err)
		return
	}
	span.SetAttributes(
		attribute.Int("tot.result.rounds", len(res.Rounds)),
		attribute.String("tot.result.stop_reason", string(res.StopReason)),
		attribute.String("tot.result.output", res.Output.String()),
		attribute.Int64("tot.result.calls", res.Usage.Calls),
		attribute.Int64("tot.result.tokens", res.Usage.TotalTokens()),
		attribute.Float64("tot.result.cost_usd", res.CostUSD),
	)
	endSpan(span, err)

	if t.enabled {
		t.logger.Debug("tot run span closed",
			slog.String("stop_reason", string(res.StopReason)),
			slog.Int("rounds", len(res.Rounds)))
	}
}

// StartRound opens a span for one round.
func (t *Tracer) StartRound(ctx context.Context, round, frontier int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "tot.round",
		trace.WithAttributes(
			attribute.Int("tot.round", round),
			attribute.Int("tot.round.frontier", frontier),
		),
	)
}

// EndRound closes a round span.
func (t *Tracer) EndRound(span trace.Span, rec *Round, err error) {
	if rec != nil {
		span.SetAttributes(
			attribute.Int("tot.round.candidates", len(rec.Candidates)),
			attribute.Int("tot.round.selected", len(rec.Selected)),
			attribute.Int("tot.round.expand_failures", rec.ExpandFailures),
			attribute.Int("tot.round.score_failures", rec.ScoreFailures),
			attribute.Int("tot.round.parse_skips", rec.ParseSkips),
		)
	}
	endSpan(span, err)
}

// StartPhase opens a span for expand or score.
func (t *Tracer) StartPhase(ctx context.Context, phase Phase, items int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "tot."+string(phase),
		trace.WithAttributes(attribute.Int("tot.phase.items", items)),
	)
}

// EndPhase closes a phase span.
func (t *Tracer) EndPhase(span trace.Span, produced, failures int, err error) {
	span.SetAttributes(
		attribute.Int("tot.phase.produced", produced),
		attribute.Int("tot.phase.failures", failures),
	)
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
