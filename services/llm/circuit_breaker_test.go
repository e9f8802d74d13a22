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
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errFault = Transient(errors.New("upstream timeout"))

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewCircuitBreaker_FillsDefaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})
	def := DefaultBreakerConfig()

	if cb.cfg.FailureThreshold != def.FailureThreshold {
		t.Errorf("FailureThreshold = %d, want %d", cb.cfg.FailureThreshold, def.FailureThreshold)
	}
	if cb.cfg.SuccessThreshold != def.SuccessThreshold {
		t.Errorf("SuccessThreshold = %d, want %d", cb.cfg.SuccessThreshold, def.SuccessThreshold)
	}
	if cb.State() != BreakerClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, CoolDown: time.Hour})

	for i := 0; i < 3; i++ {
		done, ok := cb.Allow()
		if !ok {
			t.Fatalf("call %d rejected while closed", i)
		}
		done(errFault)
	}

	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if _, ok := cb.Allow(); ok {
		t.Error("open breaker allowed a call")
	}
	if got := cb.Stats().Rejections; got != 1 {
		t.Errorf("Rejections = %d, want 1", got)
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1})

	done, _ := cb.Allow()
	done(errors.New("invalid model"))

	if cb.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2})

	done, _ := cb.Allow()
	done(errFault)
	done, _ = cb.Allow()
	done(nil)
	done, _ = cb.Allow()
	done(errFault)

	if cb.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeCycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := NewCircuitBreaker(
		BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, CoolDown: time.Minute, MaxProbes: 1},
		WithBreakerClock(clock.Now),
		WithStateChange(func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	done, _ := cb.Allow()
	done(errFault)
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	clock.Advance(time.Minute)

	probe, ok := cb.Allow()
	if !ok {
		t.Fatal("first probe rejected")
	}
	if _, ok := cb.Allow(); ok {
		t.Error("second concurrent probe allowed")
	}
	probe(nil)

	probe, ok = cb.Allow()
	if !ok {
		t.Fatal("probe after release rejected")
	}
	probe(nil)

	if cb.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFaultReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, CoolDown: time.Second}, WithBreakerClock(clock.Now))

	done, _ := cb.Allow()
	done(errFault)
	clock.Advance(time.Second)

	probe, ok := cb.Allow()
	if !ok {
		t.Fatal("probe rejected")
	}
	probe(errFault)

	if cb.State() != BreakerOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_DoneIsIdempotent(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2})

	done, _ := cb.Allow()
	done(errFault)
	done(errFault)

	if got := cb.Stats().Faults; got != 1 {
		t.Errorf("Faults = %d, want 1", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, CoolDown: time.Hour})
	done, _ := cb.Allow()
	done(errFault)

	cb.Reset()

	if cb.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
	if _, ok := cb.Allow(); !ok {
		t.Error("reset breaker rejected a call")
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, ok := cb.Allow()
			if !ok {
				return
			}
			if i%2 == 0 {
				done(errFault)
			} else {
				done(nil)
			}
		}(i)
	}
	wg.Wait()

	if got := cb.Stats().Calls; got != 50 {
		t.Errorf("Calls = %d, want 50", got)
	}
}
