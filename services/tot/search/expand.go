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

	"golang.org/x/sync/errgroup"
)

type expansion struct {
	candidates []Candidate
	failures   int
	skips      int
	lastErr    error
}

type memberExpansion struct {
	steps []string
	skips int
	err   error
}

// expand produces the expansion set: frontier order first, then the order
// steps were parsed from each member's completions. Frozen members are
// carried unchanged. A member whose model call fails contributes nothing.
func (e *Engine) expand(ctx context.Context, r *run, frontier []Candidate, round int) expansion {
	ctx, span := e.tracer.StartPhase(ctx, PhaseExpand, len(frontier))

	results := make([]memberExpansion, len(frontier))
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, member := range frontier {
		if member.Frozen {
			continue
		}
		g.Go(func() error {
			results[i] = e.expandMember(ctx, r, member.State, round)
			return nil
		})
	}
	_ = g.Wait()

	var out expansion
	for i, member := range frontier {
		if member.Frozen {
			out.candidates = append(out.candidates, member)
			continue
		}
		res := results[i]
		out.skips += res.skips
		if res.err != nil {
			out.failures++
			out.lastErr = res.err
			r.logger.Warn("tot expansion call failed",
				slog.Int("round", round),
				slog.Int("member", i),
				slog.String("error", res.err.Error()))
		}
		for _, step := range res.steps {
			out.candidates = append(out.candidates, Candidate{State: member.State.Append(step), Parent: i})
		}
	}

	e.tracer.EndPhase(span, len(out.candidates), out.failures, nil)
	return out
}

func (e *Engine) expandMember(ctx context.Context, r *run, y State, round int) memberExpansion {
	if e.cfg.Generate == GenerateSample {
		return e.sampleSteps(ctx, r, y, round)
	}
	return e.proposeSteps(ctx, r, y)
}

// proposeSteps asks once for a numbered list of next steps.
func (e *Engine) proposeSteps(ctx context.Context, r *run, y State) memberExpansion {
	prompt, err := r.task.ProposePrompt(r.x, y)
	if err != nil {
		return memberExpansion{err: err}
	}
	res, err := r.sample(ctx, prompt, e.cfg.NGenerateSample, nil)
	if err != nil {
		return memberExpansion{err: err}
	}

	var out memberExpansion
	for _, completion := range res.Completions {
		steps := r.task.ParseProposals(r.x, y, completion)
		if len(steps) == 0 {
			out.skips++
			continue
		}
		out.steps = append(out.steps, steps...)
	}
	return out
}

// sampleSteps draws independent completions, one step each.
func (e *Engine) sampleSteps(ctx context.Context, r *run, y State, round int) memberExpansion {
	prompt, err := samplePrompt(r.task, e.cfg.PromptSample, r.x, y)
	if err != nil {
		return memberExpansion{err: err}
	}

	var stop []string
	if stops := r.task.Stops(); round < len(stops) && stops[round] != "" {
		stop = []string{stops[round]}
	}
	res, err := r.sample(ctx, prompt, e.cfg.NGenerateSample, stop)
	if err != nil {
		return memberExpansion{err: err}
	}

	var out memberExpansion
	for _, completion := range res.Completions {
		step, ok := r.task.ParseSample(r.x, y, completion)
		if !ok {
			out.skips++
			continue
		}
		out.steps = append(out.steps, step)
	}
	return out
}

func samplePrompt(task Task, style PromptStyle, x string, y State) (string, error) {
	if style == PromptCoT {
		return task.CoTPrompt(x, y)
	}
	return task.StandardPrompt(x, y)
}
