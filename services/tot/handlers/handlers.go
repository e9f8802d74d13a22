// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers serves the search engine over HTTP with gin.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianToT/services/llm"
	"github.com/AleutianAI/AleutianToT/services/tot/runner"
	"github.com/AleutianAI/AleutianToT/services/tot/search"
	"github.com/AleutianAI/AleutianToT/services/tot/tasks"
	"github.com/AleutianAI/AleutianToT/services/tot/telemetry"
)

// UsageResponse is the response for GET /v1/tot/usage.
type UsageResponse struct {
	Usage   llm.Usage `json:"usage"`
	CostUSD float64   `json:"cost_usd"`
	Models  []string  `json:"models"`
}

// Handlers holds the dependencies of the HTTP API.
//
// Thread Safety: Safe for concurrent use. Each solve builds its own Engine
// from the base configuration; metrics, tracer and value cache are shared
// through the engine options.
type Handlers struct {
	sampler    llm.Sampler
	base       search.Config
	taskOpts   tasks.Options
	registry   *tasks.Registry
	engineOpts []search.Option
	timeout    time.Duration
	logger     *slog.Logger

	// spend accumulates usage across every request.
	spend *llm.Ledger

	mu     sync.Mutex
	loaded map[taskKey]search.Task
}

type taskKey struct {
	name   string
	oracle bool
}

// Option configures Handlers.
type Option func(*Handlers)

// WithRegistry sets the task registry. Defaults to tasks.NewRegistry().
func WithRegistry(r *tasks.Registry) Option {
	return func(h *Handlers) { h.registry = r }
}

// WithTaskOptions sets the options every task is built with.
func WithTaskOptions(opts tasks.Options) Option {
	return func(h *Handlers) { h.taskOpts = opts }
}

// WithEngineOptions adds options passed to every Engine.
func WithEngineOptions(opts ...search.Option) Option {
	return func(h *Handlers) { h.engineOpts = append(h.engineOpts, opts...) }
}

// WithSolveTimeout bounds each solve. Zero means no bound.
func WithSolveTimeout(d time.Duration) Option {
	return func(h *Handlers) { h.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandlers returns handlers that solve with sampler under base.
func NewHandlers(sampler llm.Sampler, base search.Config, opts ...Option) *Handlers {
	h := &Handlers{
		sampler:  sampler,
		base:     base,
		taskOpts: tasks.DefaultOptions(),
		logger:   slog.Default(),
		spend:    &llm.Ledger{},
		loaded:   make(map[taskKey]search.Task),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = tasks.NewRegistry()
	}
	return h
}

// task returns the named task, building and caching it on first use.
func (h *Handlers) task(name string, oracle *bool) (search.Task, error) {
	opts := h.taskOpts
	if oracle != nil {
		opts.OracleAssist = *oracle
	}
	if opts.Logger == nil {
		opts.Logger = h.logger
	}
	key := taskKey{name: name, oracle: opts.OracleAssist}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.loaded[key]; ok {
		return t, nil
	}
	t, err := h.registry.New(name, opts)
	if err != nil {
		return nil, err
	}
	h.loaded[key] = t
	return t, nil
}

// HandleHealth handles GET /v1/tot/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleTasks handles GET /v1/tot/tasks.
//
// Response:
//
//	200 OK: TasksResponse
//	500 Internal Server Error: a registered task failed to load
func (h *Handlers) HandleTasks(c *gin.Context) {
	resp := TasksResponse{Tasks: []TaskInfo{}}
	for _, name := range h.registry.Names() {
		t, err := h.task(name, nil)
		if err != nil {
			h.logger.Error("task load failed", slog.String("task", name), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: err.Error(),
				Code:  "TASK_LOAD_FAILED",
			})
			return
		}
		resp.Tasks = append(resp.Tasks, TaskInfo{Name: name, Instances: t.Len(), Steps: t.Steps()})
	}
	c.JSON(http.StatusOK, resp)
}

// HandleUsage handles GET /v1/tot/usage.
func (h *Handlers) HandleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, UsageResponse{
		Usage:   h.spend.Total(),
		CostUSD: h.spend.Cost(),
		Models:  h.spend.Models(),
	})
}

// HandleSolve handles POST /v1/tot/solve.
//
// Description:
//
//	Solves one task instance. Request overrides are applied on top of the
//	server's search configuration and validated before any model call.
//
// Request Body:
//
//	SolveRequest
//
// Response:
//
//	200 OK: SolveResponse
//	400 Bad Request: invalid body, overrides, or index
//	404 Not Found: unknown task
//	502 Bad Gateway: the search failed
//	504 Gateway Timeout: the solve timeout elapsed
func (h *Handlers) HandleSolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleSolve"))

	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	task, err := h.task(req.Task, req.OracleAssist)
	if err != nil {
		status, code := http.StatusInternalServerError, "TASK_LOAD_FAILED"
		if errors.Is(err, tasks.ErrUnknownTask) {
			status, code = http.StatusNotFound, "UNKNOWN_TASK"
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	if req.Index >= task.Len() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   fmt.Sprintf("index %d out of range", req.Index),
			Code:    "INDEX_OUT_OF_RANGE",
			Details: fmt.Sprintf("%s has %d instances", task.Name(), task.Len()),
		})
		return
	}

	cfg := applyOverrides(h.base, req)
	opts := slices.Concat(h.engineOpts, []search.Option{search.WithLogger(logger)})
	engine, err := search.NewEngine(h.sampler, cfg, opts...)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_CONFIG",
		})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	logger.Info("solve started",
		slog.String("task", req.Task),
		slog.Int("index", req.Index),
		slog.Bool("naive", req.Naive))

	out := runner.New(engine, logger).Solve(ctx, task, req.Index, req.Naive)
	h.spend.Record(cfg.Model, out.Usage)

	if err := out.Err(); err != nil {
		status, code := http.StatusInternalServerError, "SOLVE_FAILED"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status, code = http.StatusGatewayTimeout, "SOLVE_TIMEOUT"
		case search.IsRoundFailure(err):
			status = http.StatusBadGateway
		}
		c.JSON(status, ErrorResponse{
			Error:   err.Error(),
			Code:    code,
			Details: "run_id=" + out.RunID,
		})
		return
	}

	resp := SolveResponse{
		RunID:      out.RunID,
		Task:       out.Task,
		Index:      out.Index,
		Mode:       out.Mode,
		Output:     out.Output.Steps(),
		Reward:     out.Reward,
		StopReason: out.StopReason,
		Rounds:     out.Rounds,
		Usage:      out.Usage,
		CostUSD:    out.CostUSD,
		ElapsedMs:  out.Elapsed.Milliseconds(),
		TraceID:    telemetry.TraceID(ctx),
	}
	if req.IncludeRounds && out.Result != nil {
		resp.Trace = out.Result.Rounds
	}
	c.JSON(http.StatusOK, resp)
}

func applyOverrides(cfg search.Config, req SolveRequest) search.Config {
	if req.Generate != "" {
		cfg.Generate = req.Generate
	}
	if req.PromptSample != "" {
		cfg.PromptSample = req.PromptSample
	}
	if req.Evaluate != "" {
		cfg.Evaluate = req.Evaluate
	}
	if req.Select != "" {
		cfg.Select = req.Select
	}
	if req.Breadth > 0 {
		cfg.Breadth = req.Breadth
	}
	if req.NGenerateSample > 0 {
		cfg.NGenerateSample = req.NGenerateSample
	}
	if req.NEvaluateSample > 0 {
		cfg.NEvaluateSample = req.NEvaluateSample
	}
	return cfg
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
