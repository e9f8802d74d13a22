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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "tot"
	metricsSubsystem = "search"
)

// Metrics holds the Prometheus collectors for search runs.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RunsTotal counts finished runs.
	// Labels: task, outcome (steps, complete, budget, failure, canceled)
	RunsTotal *prometheus.CounterVec

	// RoundsTotal counts executed rounds.
	// Labels: task
	RoundsTotal *prometheus.CounterVec

	// CandidatesTotal counts candidate states.
	// Labels: task, stage (expanded, selected)
	CandidatesTotal *prometheus.CounterVec

	// FailuresTotal counts failed model calls and unparseable completions.
	// Labels: task, kind (expand, score, parse)
	FailuresTotal *prometheus.CounterVec

	// ValueCacheHitsTotal counts value scores served from cache.
	// Labels: task
	ValueCacheHitsTotal *prometheus.CounterVec

	// RoundDuration measures round wall clock.
	// Labels: task
	RoundDuration *prometheus.HistogramVec
}

// NewMetrics registers the search collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_total",
			Help:      "Total search runs by task and outcome",
		}, []string{"task", "outcome"}),
		RoundsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rounds_total",
			Help:      "Total search rounds executed by task",
		}, []string{"task"}),
		CandidatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "candidates_total",
			Help:      "Total candidate states by task and stage",
		}, []string{"task", "stage"}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "failures_total",
			Help:      "Total failed model calls and skipped completions by task and kind",
		}, []string{"task", "kind"}),
		ValueCacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "value_cache_hits_total",
			Help:      "Total value scores served from the cache by task",
		}, []string{"task"}),
		RoundDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "round_duration_seconds",
			Help:      "Search round duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"task"}),
	}
}

func (m *Metrics) observeRound(task string, rec *Round) {
	if m == nil || rec == nil {
		return
	}
	m.RoundsTotal.WithLabelValues(task).Inc()
	m.CandidatesTotal.WithLabelValues(task, "expanded").Add(float64(len(rec.Candidates)))
	m.CandidatesTotal.WithLabelValues(task, "selected").Add(float64(len(rec.Selected)))
	if rec.ExpandFailures > 0 {
		m.FailuresTotal.WithLabelValues(task, "expand").Add(float64(rec.ExpandFailures))
	}
	if rec.ScoreFailures > 0 {
		m.FailuresTotal.WithLabelValues(task, "score").Add(float64(rec.ScoreFailures))
	}
	if rec.ParseSkips > 0 {
		m.FailuresTotal.WithLabelValues(task, "parse").Add(float64(rec.ParseSkips))
	}
	m.RoundDuration.WithLabelValues(task).Observe(rec.Elapsed.Seconds())
}

func (m *Metrics) observeRun(task, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(task, outcome).Inc()
}

func (m *Metrics) cacheHit(task string) {
	if m == nil {
		return
	}
	m.ValueCacheHitsTotal.WithLabelValues(task).Inc()
}
