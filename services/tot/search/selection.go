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
	"math/rand/v2"
	"slices"
)

// Selector picks the next frontier from scored candidates.
//
// Select returns indices into cands. It returns at most min(b, len(cands))
// indices.
type Selector interface {
	Select(cands []Candidate, b int) []int
}

// rankBefore orders scored candidates ahead of failed ones, then by score
// descending. Failed candidates are never ordered among themselves.
func rankBefore(a, b Candidate) bool {
	if a.Scored != b.Scored {
		return a.Scored
	}
	if !a.Scored {
		return false
	}
	return a.Score > b.Score
}

// GreedySelector keeps the top b. Ties keep enumeration order.
type GreedySelector struct{}

// Select implements Selector.
func (GreedySelector) Select(cands []Candidate, b int) []int {
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(i, j int) int {
		switch {
		case rankBefore(cands[i], cands[j]):
			return -1
		case rankBefore(cands[j], cands[i]):
			return 1
		default:
			return 0
		}
	})
	return order[:min(b, len(order))]
}

// SampleSelector draws with replacement, each candidate weighted by its
// score. When every weight is zero it falls back to greedy selection.
//
// Thread Safety: Not safe for concurrent use; the engine makes one per run.
type SampleSelector struct {
	rng *rand.Rand
}

// NewSampleSelector returns a selector seeded with seed.
func NewSampleSelector(seed uint64) *SampleSelector {
	return &SampleSelector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Select implements Selector.
func (s *SampleSelector) Select(cands []Candidate, b int) []int {
	weights := make([]float64, len(cands))
	var total float64
	for i, c := range cands {
		if c.Scored && c.Score > 0 {
			weights[i] = c.Score
			total += c.Score
		}
	}
	if total <= 0 {
		return GreedySelector{}.Select(cands, b)
	}

	draws := min(b, len(cands))
	out := make([]int, 0, draws)
	for len(out) < draws {
		target := s.rng.Float64() * total
		pick := len(weights) - 1
		for i, w := range weights {
			if w == 0 {
				continue
			}
			if target < w {
				pick = i
				break
			}
			target -= w
		}
		for weights[pick] == 0 {
			pick--
		}
		out = append(out, pick)
	}
	return out
}
