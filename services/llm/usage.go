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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Usage counts tokens and provider calls.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	Calls            int64 `json:"calls"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		Calls:            u.Calls + o.Calls,
	}
}

// TotalTokens returns prompt plus completion tokens.
func (u Usage) TotalTokens() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Cost returns the USD cost of u when billed as model.
func (u Usage) Cost(model string) float64 {
	p := PriceFor(model)
	return float64(u.CompletionTokens)/1000*p.CompletionPer1K + float64(u.PromptTokens)/1000*p.PromptPer1K
}

func (u Usage) String() string {
	return fmt.Sprintf("calls=%d prompt_tokens=%d completion_tokens=%d", u.Calls, u.PromptTokens, u.CompletionTokens)
}

// Price is USD per thousand tokens.
type Price struct {
	CompletionPer1K float64
	PromptPer1K     float64
}

var prices = map[string]Price{
	"gpt-4":         {CompletionPer1K: 0.06, PromptPer1K: 0.03},
	"gpt-3.5-turbo": {CompletionPer1K: 0.002, PromptPer1K: 0.0015},
	"gpt-4o-mini":   {CompletionPer1K: 0.0025, PromptPer1K: 0.01},
	"gpt-4.1-mini":  {CompletionPer1K: 0.002, PromptPer1K: 0.015},
}

// PriceFor returns the price of model. Unknown models are free.
func PriceFor(model string) Price {
	return prices[strings.ToLower(model)]
}

// Ledger accumulates Usage per model for one run. The zero value is ready.
//
// Thread Safety: Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	byModel map[string]Usage
}

// Record adds u under model.
func (l *Ledger) Record(model string, u Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byModel == nil {
		l.byModel = make(map[string]Usage)
	}
	l.byModel[model] = l.byModel[model].Add(u)
}

// Total returns the usage summed over all models.
func (l *Ledger) Total() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total Usage
	for _, u := range l.byModel {
		total = total.Add(u)
	}
	return total
}

// Cost returns the USD cost of everything recorded.
func (l *Ledger) Cost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var cost float64
	for model, u := range l.byModel {
		cost += u.Cost(model)
	}
	return cost
}

// Models returns the recorded model names in sorted order.
func (l *Ledger) Models() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.byModel))
	for m := range l.byModel {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Merge adds every entry of other into l.
func (l *Ledger) Merge(other *Ledger) {
	if other == nil || other == l {
		return
	}
	other.mu.Lock()
	snapshot := make(map[string]Usage, len(other.byModel))
	for m, u := range other.byModel {
		snapshot[m] = u
	}
	other.mu.Unlock()

	for m, u := range snapshot {
		l.Record(m, u)
	}
}
