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
	"fmt"
	"log/slog"
	"time"
)

// NaiveSolve is the single-shot baseline: it samples NGenerateSample
// completions of the standard or CoT prompt from the empty state and
// returns each parsed answer as a one-step candidate. No scoring happens;
// Output is the first parsed answer.
func (e *Engine) NaiveSolve(ctx context.Context, task Task, idx int) (*Result, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	x, err := task.Input(idx)
	if err != nil {
		return nil, fmt.Errorf("resolve input %d: %w", idx, err)
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
	res := &Result{Task: task.Name(), Index: idx}
	defer func() {
		res.Usage = r.budget.Ledger().Total()
		res.CostUSD = r.budget.Ledger().Cost()
		res.Elapsed = time.Since(start)
		e.metrics.observeRun(task.Name(), string(res.StopReason))
	}()

	prompt, err := samplePrompt(task, e.cfg.PromptSample, x, State{})
	if err != nil {
		res.StopReason = StopFailure
		return res, &RoundFailureError{Phase: PhaseExpand, Cause: err}
	}
	out, err := r.sample(ctx, prompt, e.cfg.NGenerateSample, nil)
	if err != nil {
		res.StopReason = StopFailure
		return res, &RoundFailureError{Phase: PhaseExpand, Failures: 1, Cause: err}
	}

	rec := Round{Frontier: []State{{}}}
	for _, completion := range out.Completions {
		step, ok := task.ParseSample(x, State{}, completion)
		if !ok {
			rec.ParseSkips++
			continue
		}
		c := Candidate{State: NewState(step), Parent: 0, Scored: true}
		c.Frozen = task.IsComplete(x, c.State)
		rec.Candidates = append(rec.Candidates, c)
	}
	rec.Selected = rec.Candidates
	rec.Elapsed = time.Since(start)
	res.Rounds = []Round{rec}

	if len(rec.Candidates) == 0 {
		res.StopReason = StopFailure
		return res, &RoundFailureError{Phase: PhaseExpand}
	}

	res.Frontier = rec.Candidates
	res.Output = rec.Candidates[0].State
	res.StopReason = StopSteps
	r.logger.Info("tot naive solve complete",
		slog.Int("answers", len(rec.Candidates)),
		slog.Int("parse_skips", rec.ParseSkips),
		slog.String("output", res.Output.String()))
	return res, nil
}
