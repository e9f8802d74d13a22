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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianToT/services/llm"
)

// GenerateMode selects how candidate steps are produced.
type GenerateMode string

const (
	// GeneratePropose asks once per state for a numbered list of steps.
	GeneratePropose GenerateMode = "propose"
	// GenerateSample draws independent completions of a standard or CoT prompt.
	GenerateSample GenerateMode = "sample"
)

// PromptStyle selects the prompt used in sample mode.
type PromptStyle string

const (
	PromptStandard PromptStyle = "standard"
	PromptCoT      PromptStyle = "cot"
)

// EvaluateMode selects the scoring policy.
type EvaluateMode string

const (
	// EvaluateValue rates every candidate independently.
	EvaluateValue EvaluateMode = "value"
	// EvaluateVote ranks candidates against siblings sharing a parent.
	EvaluateVote EvaluateMode = "vote"
)

// SelectMode selects how the next frontier is drawn from scored candidates.
type SelectMode string

const (
	// SelectGreedy keeps the top B by score, ties in enumeration order.
	SelectGreedy SelectMode = "greedy"
	// SelectSample draws B candidates with probability proportional to score.
	SelectSample SelectMode = "sample"
)

// Config configures an Engine.
type Config struct {
	// Steps is the number of rounds; 0 uses the task's default.
	Steps int `json:"steps" yaml:"steps" validate:"gte=0"`

	// Breadth is B, the frontier size kept after each round.
	Breadth int `json:"breadth" yaml:"breadth" validate:"gte=1"`

	Generate        GenerateMode `json:"generate" yaml:"generate" validate:"oneof=propose sample"`
	PromptSample    PromptStyle  `json:"prompt_sample" yaml:"prompt_sample" validate:"oneof=standard cot"`
	NGenerateSample int          `json:"n_generate_sample" yaml:"n_generate_sample" validate:"gte=1,lte=100"`

	Evaluate        EvaluateMode `json:"evaluate" yaml:"evaluate" validate:"oneof=value vote"`
	NEvaluateSample int          `json:"n_evaluate_sample" yaml:"n_evaluate_sample" validate:"gte=1,lte=100"`

	Select SelectMode `json:"select" yaml:"select" validate:"oneof=greedy sample"`

	// CacheValues reuses the score of an identical value prompt.
	CacheValues bool `json:"cache_values" yaml:"cache_values"`

	// MaxConcurrency bounds in-flight model calls within a phase.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" validate:"gte=1,lte=256"`

	// RoundTimeout bounds one round's wall clock (0 = unbounded).
	RoundTimeout time.Duration `json:"round_timeout" yaml:"round_timeout" validate:"gte=0"`

	// Seed drives sample selection; 0 picks a random seed per run.
	Seed uint64 `json:"seed" yaml:"seed"`

	Model       string  `json:"model" yaml:"model" validate:"required"`
	Temperature float32 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" validate:"gte=1"`

	Budget BudgetConfig `json:"budget" yaml:"budget"`

	// TracingEnabled turns on per-phase spans.
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// DefaultConfig returns the settings used for Wordle evaluation runs.
func DefaultConfig() Config {
	return Config{
		Steps:           0,
		Breadth:         5,
		Generate:        GeneratePropose,
		PromptSample:    PromptStandard,
		NGenerateSample: 1,
		Evaluate:        EvaluateValue,
		NEvaluateSample: 3,
		Select:          SelectGreedy,
		CacheValues:     true,
		MaxConcurrency:  4,
		Model:           llm.DefaultOpenAIModel,
		Temperature:     0.7,
		MaxTokens:       1000,
		Budget:          DefaultBudgetConfig(),
		TracingEnabled:  true,
	}
}

var validate = validator.New()

// Validate checks every field constraint.
//
// Outputs:
//   - error: nil, or an error wrapping ErrInvalidConfig that lists each
//     failing field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func (c Config) params(n int, stop []string) llm.GenerationParams {
	return llm.GenerationParams{
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		N:           n,
		Stop:        stop,
	}
}
