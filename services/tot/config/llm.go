// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianToT/services/llm"
)

// NewBackend builds the backend named by c.Backend.
func (c LLMConfig) NewBackend(logger *slog.Logger) (llm.Backend, error) {
	switch c.Backend {
	case BackendOpenAI:
		return llm.NewOpenAIBackend(c.OpenAI, logger)
	case BackendOllama:
		return llm.NewOllamaBackend(c.Ollama, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
}

// NewClient builds the backend and wraps it with batching, retry, rate
// limiting and, when enabled, a circuit breaker.
func (c LLMConfig) NewClient(logger *slog.Logger) (*llm.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := c.NewBackend(logger)
	if err != nil {
		return nil, err
	}
	opts := []llm.ClientOption{
		llm.WithBatchSize(c.BatchSize),
		llm.WithRetryPolicy(c.Retry),
		llm.WithRateLimit(c.RateLimit, c.RateBurst),
		llm.WithClientLogger(logger),
	}
	if c.BreakerEnabled {
		opts = append(opts, llm.WithCircuitBreaker(llm.NewCircuitBreaker(c.Breaker,
			llm.WithStateChange(func(from, to llm.BreakerState) {
				logger.Warn("llm circuit breaker state change",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}))))
	}
	return llm.NewClient(backend, opts...)
}
