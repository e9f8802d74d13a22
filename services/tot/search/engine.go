// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search runs a breadth-limited Tree-of-Thoughts search over a Task.
//
// Each round expands every frontier state into candidate next states, scores
// the candidates with a value or vote policy, and keeps B of them. Model
// calls within a phase fan out concurrently; results are always collected
// in enumeration order.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/AleutianToT/services/llm"
)

// StopReason says why a run ended.
type StopReason string

const (
	// StopSteps means the configured number of rounds ran.
	StopSteps StopReason = "steps"
	// StopComplete means every frontier state was complete.
	StopComplete StopReason = "complete"
	// StopBudget means a budget limit was hit.
	StopBudget StopReason = "budget"
	// StopFailure means a round failed.
	StopFailure StopReason = "failure"
	// StopCanceled means the context ended.
	StopCanceled StopReason = "canceled"
)

// Candidate is a state together with its score for one round.
type Candidate struct {
	State State `json:"state"`

	// Parent is the frontier index the state was expanded from, -1 for the
	// root.
	Parent int `json:"parent"`

	Score float64 `json:"score"`

	// Scored is false when the scoring call for this candidate failed.
	Scored bool `json:"scored"`

	// Frozen marks a complete state carried forward unchanged.
	Frozen bool `json:"frozen,omitempty"`
}

// Round records what happened in one round.
type Round struct {
	Index          int           `json:"index"`
	Frontier       []State       `json:"frontier"`
	Candidates     []Candidate   `json:"candidates"`
	Selected       []Candidate   `json:"selected"`
	ExpandFailures int           `json:"expand_failures"`
	ScoreFailures  int           `json:"score_failures"`
	ParseSkips     int           `json:"parse_skips"`
	CacheHits      int           `json:"cache_hits"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Result is the product of a run.
type Result struct {
	Task       string        `json:"task"`
	Index      int           `json:"index"`
	Output     State         `json:"output"`
	Frontier   []Candidate   `json:"frontier"`
	Rounds     []Round       `json:"rounds"`
	Usage      llm.Usage     `json:"usage"`
	CostUSD    float64       `json:"cost_usd"`
	StopReason StopReason    `json:"stop_reason"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Engine runs searches. One Engine may serve many concurrent runs.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	sampler llm.Sampler
	cfg     Config
	logger  *slog.Logger
	tracer  *Tracer
	metrics *Metrics
	cache   *ValueCache
	scorer  scoringPolicy
	pick    func(seed uint64) Selector
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer replaces the tracer built from Config.TracingEnabled.
func WithTracer(t *Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithValueCache shares a value cache between engines.
func WithValueCache(c *ValueCache) Option {
	return func(e *Engine) { e.cache = c }
}

// NewEngine validates cfg and builds an engine.
//
// Inputs:
//   - sampler: Model client. Must not be nil.
//   - cfg: Search settings. Validated here.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Engine: Ready to use engine.
//   - error: ErrNilSampler or an ErrInvalidConfig wrapper.
func NewEngine(sampler llm.Sampler, cfg Config, opts ...Option) (*Engine, error) {
	if sampler == nil {
		return nil, ErrNilSampler
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		sampler: sampler,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = NewTracer(e.logger, cfg.TracingEnabled)
	}
	if e.cache == nil && cfg.CacheValues {
		e.cache = NewValueCache()
	}

	switch cfg.Evaluate {
	case EvaluateVote:
		e.scorer = &votePolicy{n: cfg.NEvaluateSample}
	default:
		e.scorer = &valuePolicy{n: cfg.NEvaluateSample, cache: e.cache}
	}
	switch cfg.Select {
	case SelectSample:
		e.pick = func(seed uint64) Selector { return NewSampleSelector(seed) }
	default:
		e.pick = func(uint64) Selector { return GreedySelector{} }
	}
	return e, nil
}

// Config returns the engine's settings.
func (e *Engine) Config() Config { return e.cfg }

// ValueCache returns the value cache, or nil when caching is off.
func (e *Engine) ValueCache() *ValueCache { return e.cache }

// run carries the per-instance state of one search.
type run struct {
	engine *Engine
	task   Task
	idx    int
	x      string
	budget *Budget
	logger *slog.Logger
}

// sample calls the model and books the usage, including the usage of calls
// that errored after partial progress.
func (r *run) sample(ctx context.Context, prompt string, n int, stop []string) (llm.SampleResult, error) {
	cfg := r.engine.cfg
	res, err := r.engine.sampler.Sample(ctx, llm.UserMessage(prompt), cfg.params(n, stop))
	r.budget.Record(cfg.Model, res.Usage)
	return res, err
}

// Run searches instance idx of task.
//
// Description:
//
//	Starts from the empty state and runs up to Steps rounds of
//	EXPAND, SCORE, SELECT. Stops early when every frontier state is
//	complete, when the budget runs out, or when the context ends.
//
// Outputs:
//   - *Result: Always non-nil once the input was resolved; on error it
//     holds the rounds completed so far.
//   - error: A *RoundFailureError (matches ErrRoundFailure), a context
//     error, or an input lookup error.
func (e *Engine) Run(ctx context.Context, task Task, idx int) (*Result, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	x, err := task.Input(idx)
	if err != nil {
		return nil, fmt.Errorf("resolve input %d: %w", idx, err)
	}

	steps := e.cfg.Steps
	if steps <= 0 {
		steps = task.Steps()
	}

	start := time.Now()
	r := &run{
		engine: e,
		task:   task,
		idx:    idx,
		x:      x,
		budget: NewBudget(e.cfg.Budget, nil),
		logger: e.logger.With(slog.String("task", task.Name()), slog.Int("index", idx)),
	}
	selector := e.pick(e.runSeed(idx))

	ctx, span := e.tracer.StartRun(ctx, task.Name(), idx, e.cfg)
	res := &Result{Task: task.Name(), Index: idx}
	defer func() {
		res.Usage = r.budget.Ledger().Total()
		res.CostUSD = r.budget.Ledger().Cost()
		res.Elapsed = time.Since(start)
		e.tracer.EndRun(span, res, err)
		e.metrics.observeRun(task.Name(), string(res.StopReason))
	}()

	r.logger.Info("tot search started",
		slog.Int("steps", steps),
		slog.Int("breadth", e.cfg.Breadth),
		slog.String("generate", string(e.cfg.Generate)),
		slog.String("evaluate", string(e.cfg.Evaluate)))

	frontier := []Candidate{{Parent: -1, Scored: true}}
	for round := 0; round < steps; round++ {
		if allFrozen(frontier) {
			res.StopReason = StopComplete
			break
		}
		if berr := r.budget.Check(); berr != nil {
			r.logger.Warn("tot search stopped by budget", slog.String("limit", r.budget.ExhaustedBy()))
			res.StopReason = StopBudget
			break
		}

		var rec *Round
		frontier, rec, err = e.round(ctx, r, selector, frontier, round)
		if rec != nil {
			res.Rounds = append(res.Rounds, *rec)
		}
		if err != nil {
			res.StopReason = StopFailure
			if ctx.Err() != nil {
				res.StopReason = StopCanceled
			}
			r.logger.Error("tot search failed", slog.Int("round", round), slog.String("error", err.Error()))
			return res, err
		}
	}
	if res.StopReason == "" {
		res.StopReason = StopSteps
		if allFrozen(frontier) {
			res.StopReason = StopComplete
		}
	}

	res.Frontier = frontier
	res.Output = best(frontier).State

	r.logger.Info("tot search complete",
		slog.String("stop_reason", string(res.StopReason)),
		slog.Int("rounds", len(res.Rounds)),
		slog.String("output", res.Output.String()),
		slog.String("budget", r.budget.String()))
	return res, nil
}

// round runs EXPAND, SCORE and SELECT once.
func (e *Engine) round(ctx context.Context, r *run, selector Selector, frontier []Candidate, index int) ([]Candidate, *Round, error) {
	start := time.Now()
	if e.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RoundTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.StartRound(ctx, index, len(frontier))

	rec := &Round{Index: index, Frontier: statesOf(frontier)}
	next, err := e.roundPhases(ctx, r, selector, frontier, rec)
	rec.Elapsed = time.Since(start)

	e.tracer.EndRound(span, rec, err)
	e.metrics.observeRound(r.task.Name(), rec)
	r.logger.Debug("tot round complete",
		slog.Int("round", index),
		slog.Int("candidates", len(rec.Candidates)),
		slog.Int("selected", len(rec.Selected)),
		slog.Int("expand_failures", rec.ExpandFailures),
		slog.Int("score_failures", rec.ScoreFailures),
		slog.Int("parse_skips", rec.ParseSkips),
		slog.Duration("elapsed", rec.Elapsed))
	return next, rec, err
}

func (e *Engine) roundPhases(ctx context.Context, r *run, selector Selector, frontier []Candidate, rec *Round) ([]Candidate, error) {
	exp := e.expand(ctx, r, frontier, rec.Index)
	rec.ExpandFailures = exp.failures
	rec.ParseSkips = exp.skips
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(exp.candidates) == 0 {
		return nil, &RoundFailureError{Round: rec.Index, Phase: PhaseExpand, Failures: exp.failures, Cause: exp.lastErr}
	}

	sc := e.score(ctx, r, exp.candidates)
	rec.ScoreFailures = sc.failures
	rec.CacheHits = sc.cacheHits
	rec.Candidates = exp.candidates
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sc.attempts > 0 && sc.failures == sc.attempts {
		return nil, &RoundFailureError{Round: rec.Index, Phase: PhaseScore, Failures: sc.failures, Cause: sc.lastErr}
	}

	picked := selector.Select(exp.candidates, e.cfg.Breadth)
	next := make([]Candidate, 0, len(picked))
	for _, i := range picked {
		c := exp.candidates[i]
		if !c.Frozen && r.task.IsComplete(r.x, c.State) {
			c.Frozen = true
		}
		next = append(next, c)
	}
	rec.Selected = next
	return next, nil
}

func (e *Engine) runSeed(idx int) uint64 {
	if e.cfg.Seed == 0 {
		return rand.Uint64()
	}
	return e.cfg.Seed + uint64(idx)
}

func allFrozen(frontier []Candidate) bool {
	if len(frontier) == 0 {
		return false
	}
	for _, c := range frontier {
		if !c.Frozen {
			return false
		}
	}
	return true
}

// best returns the highest scoring candidate, the earliest on ties.
func best(frontier []Candidate) Candidate {
	if len(frontier) == 0 {
		return Candidate{Parent: -1}
	}
	top := frontier[0]
	for _, c := range frontier[1:] {
		if rankBefore(c, top) {
			top = c
		}
	}
	return top
}

func statesOf(cands []Candidate) []State {
	out := make([]State, len(cands))
	for i, c := range cands {
		out[i] = c.State
	}
	return out
}

// IsRoundFailure reports whether err is a round failure.
func IsRoundFailure(err error) bool {
	return errors.Is(err, ErrRoundFailure)
}
