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
	"encoding/json"
	"slices"
	"strings"
)

// State is an immutable sequence of steps taken so far.
//
// The zero value is the empty state. Append never modifies its receiver, so
// states may be shared freely between candidates and goroutines.
type State struct {
	steps []string
}

// NewState returns a state holding a copy of steps.
func NewState(steps ...string) State {
	return State{steps: slices.Clone(steps)}
}

// ParseState decodes a newline-joined encoding. Blank lines are dropped and
// each step is trimmed.
func ParseState(s string) State {
	var steps []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			steps = append(steps, line)
		}
	}
	return State{steps: steps}
}

// Append returns a new state with step added at the end.
func (s State) Append(step string) State {
	next := make([]string, len(s.steps), len(s.steps)+1)
	copy(next, s.steps)
	return State{steps: append(next, step)}
}

// Steps returns a copy of the steps.
func (s State) Steps() []string { return slices.Clone(s.steps) }

// Depth returns the number of steps.
func (s State) Depth() int { return len(s.steps) }

// Empty reports whether no step has been taken.
func (s State) Empty() bool { return len(s.steps) == 0 }

// Last returns the final step, or "" for the empty state.
func (s State) Last() string {
	if len(s.steps) == 0 {
		return ""
	}
	return s.steps[len(s.steps)-1]
}

// Prefix returns the state without its final step.
func (s State) Prefix() State {
	if len(s.steps) == 0 {
		return s
	}
	return State{steps: s.steps[:len(s.steps)-1 : len(s.steps)-1]}
}

// Equal reports whether both states hold the same steps.
func (s State) Equal(o State) bool { return slices.Equal(s.steps, o.steps) }

// String returns the newline-joined encoding handed to tasks.
func (s State) String() string { return strings.Join(s.steps, "\n") }

// MarshalJSON encodes the state as a list of steps.
func (s State) MarshalJSON() ([]byte, error) {
	if s.steps == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.steps)
}

// UnmarshalJSON decodes a list of steps.
func (s *State) UnmarshalJSON(data []byte) error {
	var steps []string
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}
	s.steps = steps
	return nil
}
