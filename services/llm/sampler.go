// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the largest N sent to a backend in one call.
const DefaultBatchSize = 20

const instrumentationName = "aleutian.tot.llm"

// Client is the Sampler used by the search engine.
//
// Description:
//
//	Splits a request for N completions into ceil(N/batch) backend calls,
//	issued one after another. Each call waits on the rate limiter, passes
//	the circuit breaker, and is retried under the RetryPolicy while it
//	fails transiently. Token usage of every successful call is summed into
//	the returned SampleResult.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	backend   Backend
	batchSize int
	retry     RetryPolicy
	breaker   *CircuitBreaker
	limiter   *rate.Limiter
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	metrics   clientMetrics
}

type clientMetrics struct {
	calls    metric.Int64Counter
	tokens   metric.Int64Counter
	duration metric.Float64Histogram
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithCircuitBreaker puts cb in front of the backend.
func WithCircuitBreaker(cb *CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// WithRateLimit allows rps backend calls per second with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeter records call metrics on m instead of the global meter.
func WithMeter(m metric.Meter) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.meter = m
		}
	}
}

// NewClient wraps backend.
//
// Inputs:
//   - backend: The provider. Must not be nil.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Client: Ready to use client.
//   - error: ErrNilBackend, or an instrument registration failure.
func NewClient(backend Backend, opts ...ClientOption) (*Client, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	c := &Client{
		backend:   backend,
		batchSize: DefaultBatchSize,
		retry:     DefaultRetryPolicy(),
		logger:    slog.Default(),
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.metrics.calls, err = c.meter.Int64Counter("tot_llm_calls_total",
		metric.WithDescription("Backend calls by outcome")); err != nil {
		return nil, err
	}
	if c.metrics.tokens, err = c.meter.Int64Counter("tot_llm_tokens_total",
		metric.WithDescription("Tokens consumed by kind")); err != nil {
		return nil, err
	}
	if c.metrics.duration, err = c.meter.Float64Histogram("tot_llm_call_duration_seconds",
		metric.WithDescription("Backend call latency including retries"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return c, nil
}

// Breaker returns the circuit breaker, or nil.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// SamplePrompt samples completions for a single user prompt.
func (c *Client) SamplePrompt(ctx context.Context, prompt string, params GenerationParams) (SampleResult, error) {
	return c.Sample(ctx, UserMessage(prompt), params)
}

// Sample implements Sampler.
func (c *Client) Sample(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error) {
	if len(messages) == 0 {
		return SampleResult{}, ErrEmptyMessages
	}
	want := params.N
	if want <= 0 {
		want = 1
	}

	ctx, span := c.tracer.Start(ctx, "llm.Client.Sample",
		trace.WithAttributes(
			attribute.String("llm.backend", c.backend.Name()),
			attribute.String("llm.model", params.Model),
			attribute.Int("llm.n", want),
		))
	defer span.End()

	out := SampleResult{Completions: make([]string, 0, want)}
	for remaining := want; remaining > 0; {
		chunk := min(remaining, c.batchSize)
		p := params
		p.N = chunk

		res, err := c.call(ctx, messages, p)
		out.Usage = out.Usage.Add(res.Usage)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
		out.Completions = append(out.Completions, res.Completions...)
		remaining -= chunk
	}

	span.SetAttributes(
		attribute.Int("llm.completions", len(out.Completions)),
		attribute.Int64("llm.prompt_tokens", out.Usage.PromptTokens),
		attribute.Int64("llm.completion_tokens", out.Usage.CompletionTokens),
	)
	return out, nil
}

// call performs one backend call of at most batchSize completions.
func (c *Client) call(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return SampleResult{}, err
		}
	}

	start := time.Now()
	res, err := Do(ctx, c.retry, func(ctx context.Context) (SampleResult, error) {
		if c.breaker == nil {
			return c.backend.Complete(ctx, messages, params)
		}
		done, ok := c.breaker.Allow()
		if !ok {
			return SampleResult{}, ErrCircuitOpen
		}
		res, err := c.backend.Complete(ctx, messages, params)
		done(err)
		return res, err
	}, func(err error, attempt int, wait time.Duration) {
		c.logger.Warn("llm call failed, retrying",
			slog.String("backend", c.backend.Name()),
			slog.String("model", params.Model),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.logger.Error("llm call failed",
			slog.String("backend", c.backend.Name()),
			slog.String("model", params.Model),
			slog.String("error", err.Error()))
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", c.backend.Name()),
		attribute.String("model", params.Model),
	)
	c.metrics.calls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", outcome)))
	c.metrics.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err == nil {
		c.metrics.tokens.Add(ctx, res.Usage.PromptTokens, attrs, metric.WithAttributes(attribute.String("kind", "prompt")))
		c.metrics.tokens.Add(ctx, res.Usage.CompletionTokens, attrs, metric.WithAttributes(attribute.String("kind", "completion")))
		if res.Usage.Calls == 0 {
			res.Usage.Calls = 1
		}
		return res, nil
	}
	return SampleResult{}, err
}
