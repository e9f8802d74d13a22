// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm samples completions from chat language models.
//
// A Backend talks to one provider and returns at most the batch size it was
// asked for. Client sits in front of a Backend and adds chunking, rate
// limiting, retry with exponential backoff, a circuit breaker, and usage
// accounting. Callers depend on the Sampler interface.
package llm

import (
	"context"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a single-turn conversation from a prompt.
func UserMessage(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}

// GenerationParams controls one sampling request.
//
// N is the number of independent completions wanted. Client splits N into
// backend calls of at most its batch size; a Backend receives N already
// clamped.
type GenerationParams struct {
	Model       string   `json:"model" yaml:"model"`
	Temperature float32  `json:"temperature" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`
	N           int      `json:"n" yaml:"n"`
	Stop        []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// SampleResult is the outcome of a sampling request.
//
// On error Completions and Usage hold what earlier successful chunks
// produced, so a short result is distinguishable from a failed one only by
// the accompanying error.
type SampleResult struct {
	Completions []string `json:"completions"`
	Usage       Usage    `json:"usage"`
}

// Sampler returns N completions for a conversation.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Sampler interface {
	Sample(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error)
}

// Backend issues a single provider call for up to params.N completions.
//
// Retryable failures must be wrapped with Transient.
type Backend interface {
	Name() string
	Complete(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error)

// Name implements Backend.
func (f BackendFunc) Name() string { return "func" }

// Complete implements Backend.
func (f BackendFunc) Complete(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error) {
	return f(ctx, messages, params)
}
