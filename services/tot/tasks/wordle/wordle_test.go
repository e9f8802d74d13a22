// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wordle

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianToT/services/llm"
	"github.com/AleutianAI/AleutianToT/services/tot/search"
)

func st(steps ...string) search.State { return search.NewState(steps...) }

func TestTask_Basics(t *testing.T) {
	task := New()
	assert.Equal(t, "wordle", task.Name())
	assert.Equal(t, 6, task.Steps())
	assert.Equal(t, []string{"\n", "\n", "\n", "\n", "\n", "\n"}, task.Stops())
	assert.True(t, task.OracleAssist())
	assert.True(t, task.IsValid("CRANE"))
	assert.False(t, task.IsValid("zzzzz"))

	x, err := task.Input(0)
	require.NoError(t, err)
	assert.Equal(t, "table", x)

	_, err = task.Input(task.Len())
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = task.Input(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("Pilot\nslate\n"), 0o644))

	task, err := Load(path, WithOracleAssist(false), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	assert.Equal(t, 2, task.Len())
	assert.False(t, task.OracleAssist())
	x, _ := task.Input(0)
	assert.Equal(t, "pilot", x)

	_, err = Load(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o644))
	_, err = Load(empty)
	assert.ErrorIs(t, err, ErrEmptyWordList)
}

func TestTask_Prompts(t *testing.T) {
	task := New()

	p, err := task.StandardPrompt("table", st())
	require.NoError(t, err)
	assert.Contains(t, p, "Target word: [hidden]")
	assert.NotContains(t, p, "table")

	p, err = task.CoTPrompt("table", st("crane"))
	require.NoError(t, err)
	assert.Contains(t, p, "Your guesses:\ncrane\nOur feedback:\n⬛⬛🟨⬛🟩")
	assert.True(t, strings.HasSuffix(p, "Reasoning:\n"))

	p, err = task.ProposePrompt("table", st("crane", "pilot"))
	require.NoError(t, err)
	assert.Contains(t, p, "Based on the Wordle guesses so far:\ncrane\npilot\n")
	assert.Contains(t, p, "⬛⬛🟨⬛🟩\n⬛⬛🟨⬛🟨")
	assert.Contains(t, p, "1. [WORD] - explanation")

	p, err = task.ValuePrompt("table", st("crane", "pilot"))
	require.NoError(t, err)
	assert.Contains(t, p, "Guesses so far: \ncrane\n")
	assert.Contains(t, p, "Next guess: pilot")
	assert.NotContains(t, p, "⬛⬛🟨⬛🟨", "the candidate's own feedback is not shown")

	p, err = task.VotePrompt("table", []search.State{st("crane", "slate"), st("crane", "pilot")})
	require.NoError(t, err)
	assert.Contains(t, p, "1. slate\n2. pilot")
	assert.Contains(t, p, "Compare the 2 candidates")
	assert.Contains(t, p, "Guesses so far:\ncrane\n")

	p, err = task.VotePrompt("table", nil)
	require.NoError(t, err)
	assert.Equal(t, NoCandidatesPrompt, p)
}

func TestTemplatesRejectMissingKeys(t *testing.T) {
	_, err := render(valueTmpl, map[string]string{"guesses": ""})
	assert.Error(t, err)
}

func TestTask_ParseProposals(t *testing.T) {
	task := New()
	completion := "Here are my ideas:\n1. CRANE - common letters\n2) [slate] - vowels\n3. Pilot\n4. TOOLONG - nope\nrandom line\n5. cable-fits"
	got := task.ParseProposals("table", st(), completion)
	assert.Equal(t, []string{"crane", "slate", "pilot", "cable"}, got)
	assert.Empty(t, task.ParseProposals("table", st(), "no numbered lines here"))
}

func TestTask_ParseSample(t *testing.T) {
	task := New()
	tests := []struct {
		name       string
		completion string
		want       string
		ok         bool
	}{
		{"uppercase wins", "My guess is CRANE because of vowels", "crane", true},
		{"bare word", "  slate \n", "slate", true},
		{"last word of reasoning", "think about vowels. maybe pilot", "pilot", true},
		{"nothing", "no idea", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := task.ParseSample("table", st(), tt.completion)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTask_ValueUnwrap(t *testing.T) {
	task := New()
	off := New(WithOracleAssist(false))

	tests := []struct {
		name    string
		task    *Task
		y       search.State
		outputs []string
		want    float64
	}{
		{"excellent", task, st("crane"), []string{"analysis...\nRating: Excellent"}, 5.0},
		{"good summed", task, st("crane"), []string{"Good", "Good", "Good"}, 3.0},
		{"poor", task, st("crane"), []string{"Poor"}, 0.2},
		{"mixed", task, st("crane"), []string{"Excellent", "Good", "Poor"}, 6.2},
		{"only last line counts", task, st("crane"), []string{"Excellent\nRating: Poor"}, 0.2},
		{"first keyword in order", task, st("crane"), []string{"Good, not Poor"}, 0.2},
		{"invalid word", task, st("zzzzz"), []string{"Excellent"}, 0.5},
		{"wrong length", task, st("cranes"), []string{"Excellent"}, 0.5},
		{"repeat", task, st("crane", "crane"), []string{"Excellent"}, 1.0},
		{"oracle bonus", task, st("crane", "table"), []string{"Good"}, 11.0},
		{"oracle off", off, st("crane", "table"), []string{"Good"}, 1.0},
		{"floor", task, st("crane"), []string{"no rating"}, 0.01},
		{"empty outputs", task, st("crane"), nil, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.task.ValueUnwrap("table", tt.y, tt.outputs)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, got, tt.task.ValueUnwrap("table", tt.y, tt.outputs), "unwrap is idempotent")
		})
	}
}

func TestTask_ValueUnwrapMonotonic(t *testing.T) {
	task := New()
	y := st("crane")
	poor := task.ValueUnwrap("table", y, []string{"Poor"})
	good := task.ValueUnwrap("table", y, []string{"Good"})
	excellent := task.ValueUnwrap("table", y, []string{"Excellent"})
	assert.Less(t, poor, good)
	assert.Less(t, good, excellent)
	assert.Less(t, good, task.ValueUnwrap("table", y, []string{"Good", "Good"}))
}

func TestTask_VoteUnwrap(t *testing.T) {
	task := New()
	assert.Equal(t, []int{3, 0, 0}, task.VoteUnwrap([]string{"Best: 1."}, 3))
	assert.Equal(t, []int{0, 0, 1}, task.VoteUnwrap([]string{"Best: 3."}, 3))
	assert.Equal(t, []int{0, 2, 1}, task.VoteUnwrap([]string{"Best: 2.\nrunner up (3)"}, 3))
	assert.Equal(t, []int{6, 2, 0}, task.VoteUnwrap([]string{"#1", "Rank 1:", "2nd"}, 3))
	assert.Equal(t, []int{0, 0}, task.VoteUnwrap([]string{"nothing"}, 2))
	assert.Equal(t, []int{2, 0}, task.VoteUnwrap([]string{"1. and 2. both fine"}, 2), "a line counts once")
}

func TestTask_TestOutput(t *testing.T) {
	task := New()
	tests := []struct {
		name   string
		y      search.State
		want   float64
		solved bool
	}{
		{"solved in three", st("crane", "pilot", "table"), 0.7, true},
		{"solved first try", st("TABLE"), 1.0, true},
		{"solved late is floored", st("a", "b", "c", "d", "e", "f", "g", "table"), 0.1, true},
		{"partial", st("crane"), 0.14, false},
		{"partial cable", st("cable"), 0.4 + 0.08, false},
		{"not five letters", st("abc"), 0, false},
		{"empty", st(), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := task.TestOutput(0, tt.y)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, r.R, 1e-9)
			assert.Equal(t, tt.solved, r.Solved)
		})
	}

	r, err := task.TestOutput(0, st("crane", "table"))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Details["guesses"])

	_, err = task.TestOutput(-1, st("table"))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestTask_IsComplete(t *testing.T) {
	task := New()
	assert.True(t, task.IsComplete("table", st("crane", "table")))
	assert.True(t, task.IsComplete("table", st("TABLE")))
	assert.False(t, task.IsComplete("table", st("table", "crane")))
	assert.False(t, task.IsComplete("table", st()))
}

// gameSampler plays the model side of a short game against target "table".
type gameSampler struct {
	mu      sync.Mutex
	prompts []string
}

var nextGuess = regexp.MustCompile(`Next guess: (\w+)`)

func (g *gameSampler) Sample(_ context.Context, messages []llm.Message, params llm.GenerationParams) (llm.SampleResult, error) {
	prompt := messages[len(messages)-1].Content
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	var text string
	switch {
	case strings.HasPrefix(prompt, "Based on the Wordle guesses so far:"):
		text = "1. CRANE - common letters\n2. SLATE - tests vowels"
		if strings.Contains(prompt, "crane") {
			text = "1. TABLE - fits the feedback\n2. CABLE - also fits"
		}
	case strings.HasPrefix(prompt, "In Wordle, we need to evaluate"):
		text = "Rating: Good"
		if m := nextGuess.FindStringSubmatch(prompt); m != nil && m[1] == "crane" {
			text = "Rating: Excellent"
		}
	case strings.HasPrefix(prompt, "In Wordle, we need to choose"):
		text = "Best: 1."
	}

	n := max(params.N, 1)
	out := llm.SampleResult{Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 10, Calls: 1}}
	for i := 0; i < n; i++ {
		out.Completions = append(out.Completions, text)
	}
	return out, nil
}

func (g *gameSampler) find(prefix string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, p := range g.prompts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func gameConfig(evaluate search.EvaluateMode) search.Config {
	cfg := search.DefaultConfig()
	cfg.Breadth = 1
	cfg.NEvaluateSample = 1
	cfg.Evaluate = evaluate
	cfg.TracingEnabled = false
	return cfg
}

func TestSolveTable(t *testing.T) {
	for _, mode := range []search.EvaluateMode{search.EvaluateValue, search.EvaluateVote} {
		t.Run(string(mode), func(t *testing.T) {
			sampler := &gameSampler{}
			engine, err := search.NewEngine(sampler, gameConfig(mode),
				search.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			require.NoError(t, err)

			task := New()
			res, err := engine.Run(context.Background(), task, 0)
			require.NoError(t, err)

			assert.Equal(t, []string{"crane", "table"}, res.Output.Steps())
			assert.Equal(t, search.StopComplete, res.StopReason)
			assert.Len(t, res.Rounds, 2)
			for _, rd := range res.Rounds {
				assert.LessOrEqual(t, len(rd.Selected), 1)
			}

			proposes := sampler.find("Based on the Wordle")
			require.Len(t, proposes, 2)
			assert.Contains(t, proposes[1], "⬛⬛🟨⬛🟩", "second proposal sees feedback for crane")

			reward, err := task.TestOutput(0, res.Output)
			require.NoError(t, err)
			assert.True(t, reward.Solved)
			assert.InDelta(t, 0.85, reward.R, 1e-9)
		})
	}
}

// openingSampler proposes three openers and rates "table" Excellent, every
// other guess Good.
type openingSampler struct{}

func (openingSampler) Sample(_ context.Context, messages []llm.Message, params llm.GenerationParams) (llm.SampleResult, error) {
	prompt := messages[len(messages)-1].Content
	var text string
	switch {
	case strings.HasPrefix(prompt, "Based on the Wordle guesses so far:"):
		text = "1. CRANE - common letters\n2. PILOT - tests vowels\n3. TABLE - balanced"
	case strings.HasPrefix(prompt, "In Wordle, we need to evaluate"):
		text = "Rating: Good"
		if m := nextGuess.FindStringSubmatch(prompt); m != nil && m[1] == "table" {
			text = "Rating: Excellent"
		}
	}
	out := llm.SampleResult{Usage: llm.Usage{Calls: 1}}
	for i := 0; i < max(params.N, 1); i++ {
		out.Completions = append(out.Completions, text)
	}
	return out, nil
}

func TestSolveTable_OneRound(t *testing.T) {
	cfg := search.DefaultConfig()
	cfg.Steps = 1
	cfg.Breadth = 1
	cfg.NEvaluateSample = 3
	cfg.Evaluate = search.EvaluateValue
	cfg.TracingEnabled = false
	engine, err := search.NewEngine(openingSampler{}, cfg,
		search.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	res, err := engine.Run(context.Background(), New(), 0)
	require.NoError(t, err)
	require.Len(t, res.Rounds, 1)

	cands := res.Rounds[0].Candidates
	require.Len(t, cands, 3)
	got := map[string]float64{}
	for _, c := range cands {
		got[c.State.Last()] = c.Score
	}
	assert.Equal(t, map[string]float64{"crane": 3.0, "pilot": 3.0, "table": 25.0}, got)

	assert.Equal(t, []string{"table"}, res.Output.Steps())
	require.Len(t, res.Frontier, 1)
	assert.Equal(t, "table", res.Frontier[0].State.Last())
	assert.Equal(t, search.StopComplete, res.StopReason)
}
