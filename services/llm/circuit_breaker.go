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
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed passes calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets a limited number of probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is consecutive faults before opening (default: 5).
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`

	// SuccessThreshold is probe successes needed to close again (default: 2).
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" validate:"gte=1"`

	// CoolDown is how long the breaker stays open (default: 30s).
	CoolDown time.Duration `json:"cool_down" yaml:"cool_down" validate:"gte=0"`

	// MaxProbes caps concurrent calls while half-open (default: 1).
	MaxProbes int `json:"max_probes" yaml:"max_probes" validate:"gte=1"`
}

// DefaultBreakerConfig returns the defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		MaxProbes:        1,
	}
}

// BreakerStats is a snapshot of breaker counters.
type BreakerStats struct {
	State      string    `json:"state"`
	Calls      int64     `json:"calls"`
	Faults     int64     `json:"faults"`
	Rejections int64     `json:"rejections"`
	Streak     int       `json:"streak"`
	ChangedAt  time.Time `json:"changed_at"`
}

// CircuitBreaker stops calling a backend that keeps faulting.
//
// Only transient failures count as faults. A backend that answers with a
// permanent error (bad request, unknown model) is up, and the breaker stays
// closed.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(from, to BreakerState)

	mu        sync.Mutex
	state     BreakerState
	streak    int
	successes int
	probes    int
	changedAt time.Time

	calls      int64
	faults     int64
	rejections int64
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock replaces time.Now, for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithStateChange registers a callback invoked on each transition. It runs
// with the breaker lock held and must not call back into the breaker.
func WithStateChange(fn func(from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take the
// defaults.
func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	cb := &CircuitBreaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	cb.changedAt = cb.now()
	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. When it may, done must be
// called exactly once with the call's error.
//
//	done, ok := cb.Allow()
//	if !ok {
//	    return ErrCircuitOpen
//	}
//	err := call()
//	done(err)
func (cb *CircuitBreaker) Allow() (done func(err error), ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.calls++
	if cb.state == BreakerOpen && cb.now().Sub(cb.changedAt) >= cb.cfg.CoolDown {
		cb.transition(BreakerHalfOpen)
	}

	switch cb.state {
	case BreakerClosed:
		return cb.finish(false), true
	case BreakerHalfOpen:
		if cb.probes >= cb.cfg.MaxProbes {
			cb.rejections++
			return nil, false
		}
		cb.probes++
		return cb.finish(true), true
	default:
		cb.rejections++
		return nil, false
	}
}

func (cb *CircuitBreaker) finish(probe bool) func(err error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			cb.mu.Lock()
			defer cb.mu.Unlock()
			if probe {
				cb.probes--
			}
			if err != nil && IsTransient(err) {
				cb.recordFault()
				return
			}
			cb.recordSuccess()
		})
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.streak = 0
	if cb.state == BreakerHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(BreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFault() {
	cb.faults++
	cb.streak++
	cb.successes = 0
	switch cb.state {
	case BreakerClosed:
		if cb.streak >= cb.cfg.FailureThreshold {
			cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transition(BreakerOpen)
	}
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.changedAt = cb.now()
	cb.streak = 0
	cb.successes = 0
	if cb.onChange != nil && from != to {
		cb.onChange(from, to)
	}
}

// Stats returns a snapshot of the counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:      cb.state.String(),
		Calls:      cb.calls,
		Faults:     cb.faults,
		Rejections: cb.rejections,
		Streak:     cb.streak,
		ChangedAt:  cb.changedAt,
	}
}

// Reset closes the breaker and clears the streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(BreakerClosed)
	cb.probes = 0
}
