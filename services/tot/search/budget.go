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
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianToT/services/llm"
)

// BudgetConfig limits what one run may spend. Zero disables a limit.
type BudgetConfig struct {
	MaxCalls   int64         `json:"max_calls" yaml:"max_calls" validate:"gte=0"`
	MaxTokens  int64         `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	MaxCostUSD float64       `json:"max_cost_usd" yaml:"max_cost_usd" validate:"gte=0"`
	TimeLimit  time.Duration `json:"time_limit" yaml:"time_limit" validate:"gte=0"`
}

// DefaultBudgetConfig returns an unlimited budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{}
}

// Budget tracks the spend of one run against its limits.
//
// Usage is recorded into a Ledger owned by the run, so the budget and the
// run's reported totals never disagree. Limits are checked between rounds;
// a round in flight always completes.
//
// Thread Safety: Safe for concurrent use.
type Budget struct {
	cfg    BudgetConfig
	ledger *llm.Ledger
	start  time.Time
	now    func() time.Time

	mu          sync.Mutex
	exhaustedBy string
}

// NewBudget returns a budget recording into ledger. A nil ledger gets a
// fresh one.
func NewBudget(cfg BudgetConfig, ledger *llm.Ledger) *Budget {
	if ledger == nil {
		ledger = &llm.Ledger{}
	}
	return &Budget{cfg: cfg, ledger: ledger, start: time.Now(), now: time.Now}
}

// Config returns the limits.
func (b *Budget) Config() BudgetConfig { return b.cfg }

// Ledger returns the underlying usage ledger.
func (b *Budget) Ledger() *llm.Ledger { return b.ledger }

// Record adds the usage of one model call.
func (b *Budget) Record(model string, u llm.Usage) {
	b.ledger.Record(model, u)
}

// Elapsed returns the time since the budget was created.
func (b *Budget) Elapsed() time.Duration { return b.now().Sub(b.start) }

// Check returns a *BudgetExceededError once any limit is reached. The first
// limit hit is sticky.
func (b *Budget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.exhaustedBy != "" {
		return &BudgetExceededError{Limit: b.exhaustedBy}
	}

	total := b.ledger.Total()
	switch {
	case b.cfg.TimeLimit > 0 && b.Elapsed() >= b.cfg.TimeLimit:
		b.exhaustedBy = "time"
	case b.cfg.MaxCalls > 0 && total.Calls >= b.cfg.MaxCalls:
		b.exhaustedBy = "calls"
	case b.cfg.MaxTokens > 0 && total.TotalTokens() >= b.cfg.MaxTokens:
		b.exhaustedBy = "tokens"
	case b.cfg.MaxCostUSD > 0 && b.ledger.Cost() >= b.cfg.MaxCostUSD:
		b.exhaustedBy = "cost"
	default:
		return nil
	}
	return &BudgetExceededError{Limit: b.exhaustedBy}
}

// ExhaustedBy returns the limit that was hit, or "".
func (b *Budget) ExhaustedBy() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhaustedBy
}

// BudgetReport is a snapshot of spend.
type BudgetReport struct {
	Elapsed     time.Duration `json:"elapsed"`
	Usage       llm.Usage     `json:"usage"`
	CostUSD     float64       `json:"cost_usd"`
	ExhaustedBy string        `json:"exhausted_by,omitempty"`
}

// Report returns the current spend.
func (b *Budget) Report() BudgetReport {
	return BudgetReport{
		Elapsed:     b.Elapsed(),
		Usage:       b.ledger.Total(),
		CostUSD:     b.ledger.Cost(),
		ExhaustedBy: b.ExhaustedBy(),
	}
}

func (b *Budget) String() string {
	r := b.Report()
	s := fmt.Sprintf("Budget{calls=%d/%d, tokens=%d/%d, cost=$%.4f/$%.2f, time=%v/%v}",
		r.Usage.Calls, b.cfg.MaxCalls,
		r.Usage.TotalTokens(), b.cfg.MaxTokens,
		r.CostUSD, b.cfg.MaxCostUSD,
		r.Elapsed.Round(time.Millisecond), b.cfg.TimeLimit)
	if r.ExhaustedBy != "" {
		s += " [EXHAUSTED by " + r.ExhaustedBy + "]"
	}
	return s
}
