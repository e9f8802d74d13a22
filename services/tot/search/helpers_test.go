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
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianToT/services/llm"
)

// scriptedSampler answers each prompt with n copies of respond(prompt).
type scriptedSampler struct {
	mu      sync.Mutex
	respond func(prompt string) (string, error)
	prompts []string
}

func (s *scriptedSampler) Sample(_ context.Context, messages []llm.Message, params llm.GenerationParams) (llm.SampleResult, error) {
	prompt := messages[len(messages)-1].Content
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	text, err := s.respond(prompt)
	if err != nil {
		return llm.SampleResult{Usage: llm.Usage{Calls: 1}}, err
	}
	n := max(params.N, 1)
	out := llm.SampleResult{Usage: llm.Usage{PromptTokens: 10, CompletionTokens: int64(n), Calls: 1}}
	for i := 0; i < n; i++ {
		out.Completions = append(out.Completions, text)
	}
	return out, nil
}

func (s *scriptedSampler) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.prompts {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

// listTask is a toy puzzle: steps are words, the target is the input, and
// prompts encode their arguments so scriptedSampler can route on them.
//
//	propose:<state>      -> comma separated words
//	sample:<state>       -> one word
//	value:<state>        -> a float, summed over outputs
//	vote:<w1>|<w2>|...   -> the 1-based number of the favourite
type listTask struct {
	inputs []string
}

func newListTask(inputs ...string) *listTask { return &listTask{inputs: inputs} }

func (t *listTask) Name() string { return "list" }
func (t *listTask) Len() int { return len(t.inputs) }
func (t *listTask) Steps() int { return 3 }
func (t *listTask) Stops() []string { return []string{"\n", "\n", "\n"} }
func (t *listTask) Input(idx int) (string, error) {
	if idx < 0 || idx >= len(t.inputs) {
		return "", fmt.Errorf("index %d out of range", idx)
	}
	return t.inputs[idx], nil
}

func (t *listTask) StandardPrompt(_ string, y State) (string, error) { return "sample:" + y.String(), nil }
func (t *listTask) CoTPrompt(_ string, y State) (string, error) { return "cot:" + y.String(), nil }
func (t *listTask) ProposePrompt(_ string, y State) (string, error) {
	return "propose:" + strings.ReplaceAll(y.String(), "\n", ","), nil
}

func (t *listTask) ParseProposals(_ string, _ State, completion string) []string {
	var out []string
	for _, w := range strings.Split(completion, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func (t *listTask) ParseSample(_ string, _ State, completion string) (string, bool) {
	w := strings.TrimSpace(completion)
	return w, w != ""
}

func (t *listTask) ValuePrompt(_ string, y State) (string, error) {
	return "value:" + strings.ReplaceAll(y.String(), "\n", ","), nil
}

func (t *listTask) ValueUnwrap(_ string, _ State, outputs []string) float64 {
	var sum float64
	for _, o := range outputs {
		v, err := strconv.ParseFloat(strings.TrimSpace(o), 64)
		if err == nil {
			sum += v
		}
	}
	return sum
}

func (t *listTask) VotePrompt(_ string, candidates []State) (string, error) {
	lasts := make([]string, len(candidates))
	for i, c := range candidates {
		lasts[i] = c.Last()
	}
	return "vote:" + strings.Join(lasts, "|"), nil
}

func (t *listTask) VoteUnwrap(outputs []string, n int) []int {
	tally := make([]int, n)
	for _, o := range outputs {
		k, err := strconv.Atoi(strings.TrimSpace(o))
		if err != nil || k < 1 || k > n {
			continue
		}
		tally[k-1] += n - (k - 1)
	}
	return tally
}

func (t *listTask) TestOutput(idx int, y State) (Reward, error) {
	x, err := t.Input(idx)
	if err != nil {
		return Reward{}, err
	}
	if y.Last() == x {
		return Reward{R: 1, Solved: true}, nil
	}
	return Reward{}, nil
}

func (t *listTask) IsComplete(x string, y State) bool { return y.Last() == x }

// router dispatches on prompt kind. Missing keys answer with "".
type router struct {
	propose map[string]string
	value   map[string]string
	vote    map[string]string
	sample  map[string]string
	fail    func(prompt string) error
}

func (r router) respond(prompt string) (string, error) {
	if r.fail != nil {
		if err := r.fail(prompt); err != nil {
			return "", err
		}
	}
	kind, arg, _ := strings.Cut(prompt, ":")
	var m map[string]string
	switch kind {
	case "propose":
		m = r.propose
	case "value":
		m = r.value
		arg = lastWord(arg)
	case "vote":
		m = r.vote
	case "sample", "cot":
		m = r.sample
	}
	return m[arg], nil
}

func lastWord(s string) string {
	if i := strings.LastIndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Breadth = 2
	cfg.NEvaluateSample = 1
	cfg.TracingEnabled = false
	cfg.CacheValues = false
	return cfg
}
