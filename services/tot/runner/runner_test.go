// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianToT/services/llm"
	"github.com/AleutianAI/AleutianToT/services/tot/search"
	"github.com/AleutianAI/AleutianToT/services/tot/tasks/wordle"
)

// fixedSampler always proposes TABLE and CABLE and rates every guess Good.
type fixedSampler struct {
	err error
}

func (f fixedSampler) Sample(_ context.Context, messages []llm.Message, params llm.GenerationParams) (llm.SampleResult, error) {
	if f.err != nil {
		return llm.SampleResult{Usage: llm.Usage{Calls: 1}}, f.err
	}
	prompt := messages[len(messages)-1].Content
	text := "TABLE"
	switch {
	case strings.HasPrefix(prompt, "Based on the Wordle guesses so far:"):
		text = "1. TABLE - fits\n2. CABLE - fits"
	case strings.HasPrefix(prompt, "In Wordle, we need to evaluate"):
		text = "Rating: Good"
	}
	n := max(params.N, 1)
	out := llm.SampleResult{Usage: llm.Usage{PromptTokens: 50, CompletionTokens: 5, Calls: 1}}
	for i := 0; i < n; i++ {
		out.Completions = append(out.Completions, text)
	}
	return out, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newRunner(t *testing.T, sampler llm.Sampler) (*Runner, *wordle.Task) {
	t.Helper()
	cfg := search.DefaultConfig()
	cfg.Breadth = 1
	cfg.NEvaluateSample = 1
	cfg.TracingEnabled = false
	engine, err := search.NewEngine(sampler, cfg, search.WithLogger(quiet()))
	require.NoError(t, err)
	task, err := wordle.NewFromWords([]string{"table", "cable", "zebra"}, wordle.WithLogger(quiet()))
	require.NoError(t, err)
	return New(engine, quiet()), task
}

func TestRunRange(t *testing.T) {
	r, task := newRunner(t, fixedSampler{})
	var sink bytes.Buffer

	sum, err := r.RunRange(context.Background(), task, 0, 3, Options{Concurrency: 2, Sink: &sink})
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, "wordle", sum.Task)
	assert.Equal(t, ModeSearch, sum.Mode)
	assert.Equal(t, 3, sum.Instances)
	assert.Equal(t, 2, sum.Solved, "table and cable are reachable, zebra is not")
	assert.Equal(t, 0, sum.Failed)
	assert.InDelta(t, 2.0/3.0, sum.SolveRate, 1e-9)

	require.Len(t, sum.Outcomes, 3)
	var calls int64
	for i, o := range sum.Outcomes {
		assert.Equal(t, i, o.Index, "outcomes are ordered by index")
		assert.Equal(t, sum.RunID, o.RunID)
		assert.NotNil(t, o.Result)
		calls += o.Usage.Calls
	}
	assert.Equal(t, "table", sum.Outcomes[0].Output.Last())
	assert.Equal(t, search.StopComplete, sum.Outcomes[0].StopReason)
	assert.False(t, sum.Outcomes[2].Reward.Solved)

	assert.Equal(t, calls, sum.Usage.Calls)
	assert.Equal(t, sum.Usage, sum.Ledger().Total())
	assert.Equal(t, []string{search.DefaultConfig().Model}, sum.Ledger().Models())

	lines := 0
	sc := bufio.NewScanner(&sink)
	for sc.Scan() {
		var o Outcome
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		assert.Equal(t, sum.RunID, o.RunID)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestRunRange_Naive(t *testing.T) {
	r, task := newRunner(t, fixedSampler{})

	sum, err := r.RunRange(context.Background(), task, 0, 2, Options{Naive: true})
	require.NoError(t, err)

	assert.Equal(t, ModeNaive, sum.Mode)
	assert.Equal(t, 2, sum.Instances)
	assert.Equal(t, 1, sum.Solved)
	for _, o := range sum.Outcomes {
		assert.Equal(t, ModeNaive, o.Mode)
		assert.Equal(t, "table", o.Output.Last())
	}
}

func TestRunRange_FailedInstancesAreCounted(t *testing.T) {
	r, task := newRunner(t, fixedSampler{err: errors.New("upstream down")})

	sum, err := r.RunRange(context.Background(), task, 0, 2, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Instances)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 0, sum.Solved)
	for _, o := range sum.Outcomes {
		assert.True(t, o.Failed())
		assert.Contains(t, o.Error, "upstream down")
		assert.Equal(t, search.StopFailure, o.StopReason)
	}
	assert.Greater(t, sum.Usage.Calls, int64(0), "failed calls still count")
}

func TestRunRange_InvalidRange(t *testing.T) {
	r, task := newRunner(t, fixedSampler{})

	tests := []struct {
		name       string
		start, end int
	}{
		{"empty", 1, 1},
		{"reversed", 2, 1},
		{"negative", -1, 2},
		{"beyond", 5, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RunRange(context.Background(), task, tt.start, tt.end, Options{})
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

func TestRunRange_ClampsEnd(t *testing.T) {
	r, task := newRunner(t, fixedSampler{})

	sum, err := r.RunRange(context.Background(), task, 1, 50, Options{Naive: true})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.End)
	assert.Equal(t, 2, sum.Instances)
}

func TestRunRange_Canceled(t *testing.T) {
	r, task := newRunner(t, fixedSampler{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := r.RunRange(ctx, task, 0, 3, Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Equal(t, 0, sum.Instances)
}

func TestSolve(t *testing.T) {
	r, task := newRunner(t, fixedSampler{})

	o := r.Solve(context.Background(), task, 1, false)
	assert.False(t, o.Failed())
	assert.Equal(t, "cable", o.Output.Last())
	assert.True(t, o.Reward.Solved)
	assert.NotEmpty(t, o.RunID)

	o = r.Solve(context.Background(), task, 7, false)
	assert.True(t, o.Failed())
}
