// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"github.com/AleutianAI/AleutianToT/services/llm"
	"github.com/AleutianAI/AleutianToT/services/tot/runner"
	"github.com/AleutianAI/AleutianToT/services/tot/search"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// HealthResponse is the response for GET /v1/tot/health.
type HealthResponse struct {
	// Status is always "healthy" while the process serves.
	Status string `json:"status"`

	Version string `json:"version"`
}

// TaskInfo describes one registered task.
type TaskInfo struct {
	Name      string `json:"name"`
	Instances int    `json:"instances"`
	Steps     int    `json:"steps"`
}

// TasksResponse is the response for GET /v1/tot/tasks.
type TasksResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

// SolveRequest is the body of POST /v1/tot/solve. Zero-valued overrides
// leave the server's search configuration unchanged.
type SolveRequest struct {
	Task  string `json:"task" binding:"required"`
	Index int    `json:"index" binding:"gte=0"`

	// Naive runs the single-shot baseline instead of the search.
	Naive bool `json:"naive,omitempty"`

	Generate        search.GenerateMode `json:"generate,omitempty" binding:"omitempty,oneof=propose sample"`
	PromptSample    search.PromptStyle  `json:"prompt_sample,omitempty" binding:"omitempty,oneof=standard cot"`
	Evaluate        search.EvaluateMode `json:"evaluate,omitempty" binding:"omitempty,oneof=value vote"`
	Select          search.SelectMode   `json:"select,omitempty" binding:"omitempty,oneof=greedy sample"`
	Breadth         int                 `json:"breadth,omitempty" binding:"omitempty,gte=1,lte=32"`
	NGenerateSample int                 `json:"n_generate_sample,omitempty" binding:"omitempty,gte=1,lte=100"`
	NEvaluateSample int                 `json:"n_evaluate_sample,omitempty" binding:"omitempty,gte=1,lte=100"`

	// OracleAssist overrides the task's oracle bonus when set.
	OracleAssist *bool `json:"oracle_assist,omitempty"`

	// IncludeRounds adds the per-round record to the response.
	IncludeRounds bool `json:"include_rounds,omitempty"`
}

// SolveResponse is the response for POST /v1/tot/solve.
type SolveResponse struct {
	RunID      string            `json:"run_id"`
	Task       string            `json:"task"`
	Index      int               `json:"index"`
	Mode       runner.Mode       `json:"mode"`
	Output     []string          `json:"output"`
	Reward     search.Reward     `json:"reward"`
	StopReason search.StopReason `json:"stop_reason"`
	Rounds     int               `json:"rounds"`
	Usage      llm.Usage         `json:"usage"`
	CostUSD    float64           `json:"cost_usd"`
	ElapsedMs  int64             `json:"elapsed_ms"`

	// TraceID is the request's OpenTelemetry trace, when tracing is on.
	TraceID string         `json:"trace_id,omitempty"`
	Trace   []search.Round `json:"trace,omitempty"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
