// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures exponential backoff for transient backend errors.
//
// Only errors marked with Transient are retried. Any other error ends the
// call on the attempt that produced it.
type RetryPolicy struct {
	// MaxAttempts caps total attempts including the first (0 = unlimited).
	MaxAttempts uint `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`

	// InitialInterval is the wait before the first retry.
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" validate:"gte=0"`

	// MaxInterval caps a single wait.
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval" validate:"gte=0"`

	// Multiplier grows the interval after each retry.
	Multiplier float64 `json:"multiplier" yaml:"multiplier" validate:"gte=1"`

	// MaxElapsed bounds the total time spent retrying (0 = no bound).
	MaxElapsed time.Duration `json:"max_elapsed" yaml:"max_elapsed" validate:"gte=0"`
}

// DefaultRetryPolicy returns the policy used against hosted APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     6,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsed:      5 * time.Minute,
	}
}

// RetryNotify is called before each wait with the failing attempt number.
type RetryNotify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a non-transient error, or the policy
// gives up.
//
// Outputs:
//   - T: The value of the last attempt.
//   - error: nil on success; the permanent error as returned by op; or a
//     *RetriesExhaustedError wrapping the last transient error.
func Do[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error), notify RetryNotify) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}

	attempts := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if notify != nil {
				notify(err, attempts, wait)
			}
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxAttempts))
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
	if err == nil {
		return res, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if IsTransient(err) {
		return res, &RetriesExhaustedError{Attempts: attempts, Err: err}
	}
	return res, err
}
