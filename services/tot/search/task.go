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

// Reward is the terminal score of an output.
type Reward struct {
	R       float64        `json:"r"`
	Solved  bool           `json:"solved"`
	Details map[string]int `json:"details,omitempty"`
}

// Prompter builds generation prompts for the input x and the state so far.
type Prompter interface {
	// StandardPrompt asks for a direct answer.
	StandardPrompt(x string, y State) (string, error)

	// CoTPrompt asks for step-by-step reasoning ending in an answer.
	CoTPrompt(x string, y State) (string, error)

	// ProposePrompt asks for several candidate next steps.
	ProposePrompt(x string, y State) (string, error)
}

// Proposer turns completions into candidate next steps.
//
// Text that does not match the expected format yields no steps.
type Proposer interface {
	// ParseProposals extracts every candidate step from a propose completion.
	ParseProposals(x string, y State, completion string) []string

	// ParseSample extracts the single step from a standard or CoT completion.
	ParseSample(x string, y State, completion string) (string, bool)
}

// ValueScorer rates one candidate at a time. The candidate is y's last step.
type ValueScorer interface {
	ValuePrompt(x string, y State) (string, error)
	ValueUnwrap(x string, y State, outputs []string) float64
}

// VoteScorer ranks candidates that share a prefix against each other.
type VoteScorer interface {
	VotePrompt(x string, candidates []State) (string, error)
	VoteUnwrap(outputs []string, n int) []int
}

// Evaluator judges finished output.
type Evaluator interface {
	TestOutput(idx int, y State) (Reward, error)
	IsComplete(x string, y State) bool
}

// Task is one puzzle family. Instances are addressed by index.
//
// The engine never inspects puzzle semantics; everything specific to a
// puzzle is reached through this interface.
type Task interface {
	Name() string
	Len() int
	Input(idx int) (string, error)

	// Steps is the default number of search rounds.
	Steps() int

	// Stops returns per-round stop sequences for sample generation.
	Stops() []string

	Prompter
	Proposer
	ValueScorer
	VoteScorer
	Evaluator
}
