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
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// scoring is the outcome of a SCORE phase. attempts counts model calls
// made or attempted; cache hits are not attempts.
type scoring struct {
	attempts  int
	failures  int
	cacheHits int
	lastErr   error
}

// scoringPolicy assigns Score and Scored on the non-frozen candidates in
// place. It must not reorder cands.
type scoringPolicy interface {
	Score(ctx context.Context, r *run, cands []Candidate) scoring
}

func (e *Engine) score(ctx context.Context, r *run, cands []Candidate) scoring {
	ctx, span := e.tracer.StartPhase(ctx, PhaseScore, len(cands))
	sc := e.scorer.Score(ctx, r, cands)
	for i := 0; i < sc.cacheHits; i++ {
		e.metrics.cacheHit(r.task.Name())
	}
	e.tracer.EndPhase(span, len(cands)-sc.failures, sc.failures, nil)
	return sc
}

// =============================================================================
// VALUE POLICY
// =============================================================================

// valuePolicy rates each candidate on its own with n sampled ratings.
//
// Identical value prompts within a run are sent once. With a cache, a
// prompt already rated in an earlier round or run is not sent again.
type valuePolicy struct {
	n     int
	cache *ValueCache
	group singleflight.Group
}

type valueOutcome struct {
	value float64
	hit   bool
	err   error
}

// Score implements scoringPolicy.
func (p *valuePolicy) Score(ctx context.Context, r *run, cands []Candidate) scoring {
	outcomes := make([]valueOutcome, len(cands))
	g := new(errgroup.Group)
	g.SetLimit(r.engine.cfg.MaxConcurrency)
	for i := range cands {
		if cands[i].Frozen {
			continue
		}
		y := cands[i].State
		g.Go(func() error {
			outcomes[i] = p.value(ctx, r, y)
			return nil
		})
	}
	_ = g.Wait()

	var sc scoring
	for i := range cands {
		if cands[i].Frozen {
			continue
		}
		o := outcomes[i]
		if o.hit {
			sc.cacheHits++
		} else {
			sc.attempts++
		}
		if o.err != nil {
			sc.failures++
			sc.lastErr = o.err
			cands[i].Score, cands[i].Scored = 0, false
			r.logger.Warn("tot value call failed",
				slog.String("candidate", cands[i].State.Last()),
				slog.String("error", o.err.Error()))
			continue
		}
		cands[i].Score, cands[i].Scored = o.value, true
	}
	return sc
}

func (p *valuePolicy) value(ctx context.Context, r *run, y State) valueOutcome {
	prompt, err := r.task.ValuePrompt(r.x, y)
	if err != nil {
		return valueOutcome{err: err}
	}
	key := cacheKey(r.task.Name(), r.x, prompt)
	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			return valueOutcome{value: v, hit: true}
		}
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		res, err := r.sample(ctx, prompt, p.n, nil)
		if err != nil {
			return 0.0, err
		}
		value := r.task.ValueUnwrap(r.x, y, res.Completions)
		if p.cache != nil {
			p.cache.Put(key, value)
		}
		return value, nil
	})
	if err != nil {
		return valueOutcome{err: err}
	}
	return valueOutcome{value: v.(float64)}
}

// =============================================================================
// VOTE POLICY
// =============================================================================

// votePolicy groups candidates by parent and asks the model to rank each
// group's members against each other. Tallies are comparable only within a
// group.
type votePolicy struct {
	n int
}

// Score implements scoringPolicy.
func (p *votePolicy) Score(ctx context.Context, r *run, cands []Candidate) scoring {
	groups := groupByParent(cands)

	errs := make([]error, len(groups))
	g := new(errgroup.Group)
	g.SetLimit(r.engine.cfg.MaxConcurrency)
	for gi, members := range groups {
		g.Go(func() error {
			errs[gi] = p.vote(ctx, r, cands, members)
			return nil
		})
	}
	_ = g.Wait()

	var sc scoring
	for gi, members := range groups {
		sc.attempts++
		if errs[gi] == nil {
			continue
		}
		sc.failures++
		sc.lastErr = errs[gi]
		for _, i := range members {
			cands[i].Score, cands[i].Scored = 0, false
		}
		r.logger.Warn("tot vote call failed",
			slog.Int("parent", cands[members[0]].Parent),
			slog.Int("members", len(members)),
			slog.String("error", errs[gi].Error()))
	}
	return sc
}

// vote scores one group. Each goroutine writes only its own members.
func (p *votePolicy) vote(ctx context.Context, r *run, cands []Candidate, members []int) error {
	states := make([]State, len(members))
	for k, i := range members {
		states[k] = cands[i].State
	}
	prompt, err := r.task.VotePrompt(r.x, states)
	if err != nil {
		return err
	}
	res, err := r.sample(ctx, prompt, p.n, nil)
	if err != nil {
		return err
	}
	tally := r.task.VoteUnwrap(res.Completions, len(members))
	for k, i := range members {
		var v int
		if k < len(tally) {
			v = tally[k]
		}
		cands[i].Score, cands[i].Scored = float64(v), true
	}
	return nil
}

// groupByParent returns index groups of non-frozen candidates sharing a
// parent, ordered by first appearance.
func groupByParent(cands []Candidate) [][]int {
	pos := make(map[int]int)
	var groups [][]int
	for i, c := range cands {
		if c.Frozen {
			continue
		}
		gi, ok := pos[c.Parent]
		if !ok {
			gi = len(groups)
			pos[c.Parent] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], i)
	}
	return groups
}

// =============================================================================
// VALUE CACHE
// =============================================================================

// ValueCache memoizes value scores by task, input and value prompt.
//
// Thread Safety: Safe for concurrent use.
type ValueCache struct {
	mu     sync.RWMutex
	values map[string]float64
	hits   atomic.Int64
	misses atomic.Int64
}

// NewValueCache returns an empty cache.
func NewValueCache() *ValueCache {
	return &ValueCache{values: make(map[string]float64)}
}

// Get returns a cached value.
func (c *ValueCache) Get(key string) (float64, bool) {
	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores a value.
func (c *ValueCache) Put(key string, v float64) {
	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *ValueCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Stats returns hit and miss counts.
func (c *ValueCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear drops every entry.
func (c *ValueCache) Clear() {
	c.mu.Lock()
	c.values = make(map[string]float64)
	c.mu.Unlock()
}

func cacheKey(task, x, prompt string) string {
	var b strings.Builder
	b.Grow(len(task) + len(x) + len(prompt) + 2)
	b.WriteString(task)
	b.WriteByte(0)
	b.WriteString(x)
	b.WriteByte(0)
	b.WriteString(prompt)
	return b.String()
}
