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
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrRoundFailure indicates a round produced nothing usable: either no
	// candidate survived expansion or every scoring attempt failed. The
	// search for that instance cannot continue.
	ErrRoundFailure = errors.New("search round failed")

	// ErrBudgetExhausted indicates a run limit (calls, tokens, cost, time)
	// was reached.
	ErrBudgetExhausted = errors.New("search budget exhausted")

	// ErrInvalidConfig indicates the search configuration failed validation.
	ErrInvalidConfig = errors.New("invalid search config")

	// ErrNilTask indicates Run was called without a task.
	ErrNilTask = errors.New("task must not be nil")

	// ErrNilSampler indicates an Engine was built without a sampler.
	ErrNilSampler = errors.New("sampler must not be nil")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Phase names the part of a round that failed.
type Phase string

const (
	PhaseExpand Phase = "expand"
	PhaseScore  Phase = "score"
)

// RoundFailureError reports a fatal round.
//
// Failures counts the model calls that errored in the failing phase; Cause is
// the last of those errors, if any.
type RoundFailureError struct {
	Round    int
	Phase    Phase
	Failures int
	Cause    error
}

func (e *RoundFailureError) Error() string {
	msg := fmt.Sprintf("search round %d failed during %s (%d failed calls)", e.Round, e.Phase, e.Failures)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RoundFailureError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match ErrRoundFailure.
func (e *RoundFailureError) Is(target error) bool {
	return target == ErrRoundFailure
}

// BudgetExceededError names the limit that stopped a run.
type BudgetExceededError struct {
	Limit string
}

func (e *BudgetExceededError) Error() string {
	return "search budget exhausted by " + e.Limit
}

// Is lets errors.Is match ErrBudgetExhausted.
func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExhausted
}
