// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner solves task instances with a search engine, one at a time
// or over an index range, and aggregates rewards and spend.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianToT/services/llm"
	"github.com/AleutianAI/AleutianToT/services/tot/search"
	"github.com/AleutianAI/AleutianToT/services/tot/telemetry"
)

const tracerName = "aleutian.tot.runner"

// ErrInvalidRange is returned when end is not after start.
var ErrInvalidRange = errors.New("invalid index range")

// Mode names how an instance was solved.
type Mode string

const (
	ModeSearch Mode = "tot"
	ModeNaive  Mode = "naive"
)

// Outcome is the record of one instance.
type Outcome struct {
	RunID      string            `json:"run_id"`
	Task       string            `json:"task"`
	Index      int               `json:"index"`
	Mode       Mode              `json:"mode"`
	Output     search.State      `json:"output"`
	Reward     search.Reward     `json:"reward"`
	StopReason search.StopReason `json:"stop_reason,omitempty"`
	Rounds     int               `json:"rounds"`
	Usage      llm.Usage         `json:"usage"`
	CostUSD    float64           `json:"cost_usd"`
	Elapsed    time.Duration     `json:"elapsed"`
	Error      string            `json:"error,omitempty"`

	// Result is the full search record. Not serialized.
	Result *search.Result `json:"-"`

	err error
}

// Failed reports whether the instance ended in error.
func (o Outcome) Failed() bool { return o.Error != "" }

// Err returns the error that ended the instance, if any.
func (o Outcome) Err() error { return o.err }

// Summary aggregates a range run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Task       string        `json:"task"`
	Mode       Mode          `json:"mode"`
	Start      int           `json:"start"`
	End        int           `json:"end"`
	Instances  int           `json:"instances"`
	Solved     int           `json:"solved"`
	Failed     int           `json:"failed"`
	MeanReward float64       `json:"mean_reward"`
	SolveRate  float64       `json:"solve_rate"`
	Usage      llm.Usage     `json:"usage"`
	CostUSD    float64       `json:"cost_usd"`
	Elapsed    time.Duration `json:"elapsed"`
	Outcomes   []Outcome     `json:"outcomes"`

	ledger *llm.Ledger
}

// Ledger returns the usage recorded over the run, by model.
func (s *Summary) Ledger() *llm.Ledger { return s.ledger }

// Options configures a range run.
type Options struct {
	// Concurrency is how many instances run at once (default 1).
	Concurrency int

	// Naive uses the single-shot baseline.
	Naive bool

	// Sink receives one JSON line per finished instance.
	Sink io.Writer
}

// Runner drives an Engine over task instances.
//
// Thread Safety: Safe for concurrent use.
type Runner struct {
	engine *search.Engine
	logger *slog.Logger
}

// New returns a runner over engine.
func New(engine *search.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: engine, logger: logger}
}

// Solve runs one instance and scores its output. Search failures are
// recorded in the outcome, not returned.
func (r *Runner) Solve(ctx context.Context, task search.Task, idx int, naive bool) Outcome {
	return r.solve(ctx, uuid.NewString(), task, idx, naive)
}

func (r *Runner) solve(ctx context.Context, runID string, task search.Task, idx int, naive bool) Outcome {
	logger := telemetry.LoggerWithRun(ctx, r.logger, runID)
	out := Outcome{RunID: runID, Task: task.Name(), Index: idx, Mode: ModeSearch}

	var (
		res *search.Result
		err error
	)
	if naive {
		out.Mode = ModeNaive
		res, err = r.engine.NaiveSolve(ctx, task, idx)
	} else {
		res, err = r.engine.Run(ctx, task, idx)
	}

	if res != nil {
		out.Result = res
		out.Output = res.Output
		out.StopReason = res.StopReason
		out.Rounds = len(res.Rounds)
		out.Usage = res.Usage
		out.CostUSD = res.CostUSD
		out.Elapsed = res.Elapsed
	}
	if err != nil {
		out.err = err
		out.Error = err.Error()
		telemetry.RecordError(trace.SpanFromContext(ctx), err, attribute.Int("tot.index", idx))
		logger.Warn("tot instance failed", slog.Int("index", idx), slog.String("error", err.Error()))
		return out
	}

	reward, err := task.TestOutput(idx, out.Output)
	if err != nil {
		out.err = fmt.Errorf("score output: %w", err)
		out.Error = out.err.Error()
		return out
	}
	out.Reward = reward
	logger.Info("tot instance done",
		slog.Int("index", idx),
		slog.Bool("solved", reward.Solved),
		slog.Float64("reward", reward.R),
		slog.String("output", out.Output.String()))
	return out
}

// RunRange solves instances [start, end) of task.
//
// Description:
//
//	Instances run concurrently up to opts.Concurrency. A failed instance
//	is recorded and the run continues. Outcomes are ordered by index.
//
// Outputs:
//   - *Summary: Aggregates over every finished instance.
//   - error: ErrInvalidRange, or the context error when the run was
//     cut short. The summary is still returned in that case.
func (r *Runner) RunRange(ctx context.Context, task search.Task, start, end int, opts Options) (*Summary, error) {
	if end <= start || start < 0 {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}
	if end > task.Len() {
		end = task.Len()
		if end <= start {
			return nil, fmt.Errorf("%w: [%d, %d) beyond %d instances", ErrInvalidRange, start, end, task.Len())
		}
	}

	runID := uuid.NewString()
	began := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Runner.RunRange", trace.WithAttributes(
		attribute.String("tot.run_id", runID),
		attribute.String("tot.task", task.Name()),
		attribute.Int("tot.start", start),
		attribute.Int("tot.end", end),
		attribute.Bool("tot.naive", opts.Naive),
	))
	defer span.End()
	sum := &Summary{
		RunID:  runID,
		Task:   task.Name(),
		Mode:   ModeSearch,
		Start:  start,
		End:    end,
		ledger: &llm.Ledger{},
	}
	if opts.Naive {
		sum.Mode = ModeNaive
	}
	r.logger.Info("tot run started",
		slog.String("run_id", runID),
		slog.String("task", task.Name()),
		slog.Int("start", start),
		slog.Int("end", end),
		slog.String("mode", string(sum.Mode)))

	outcomes := make([]Outcome, end-start)
	done := make([]bool, end-start)
	var sinkMu sync.Mutex
	model := r.engine.Config().Model

	g := new(errgroup.Group)
	g.SetLimit(max(opts.Concurrency, 1))
	for idx := start; idx < end; idx++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o := r.solve(ctx, runID, task, idx, opts.Naive)
			outcomes[idx-start] = o
			done[idx-start] = true

			instance := &llm.Ledger{}
			instance.Record(model, o.Usage)
			sum.ledger.Merge(instance)

			if opts.Sink != nil {
				sinkMu.Lock()
				if err := json.NewEncoder(opts.Sink).Encode(o); err != nil {
					r.logger.Warn("tot outcome not written", slog.Int("index", idx), slog.String("error", err.Error()))
				}
				sinkMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var rewardSum float64
	for i, o := range outcomes {
		if !done[i] {
			continue
		}
		sum.Outcomes = append(sum.Outcomes, o)
		sum.Instances++
		rewardSum += o.Reward.R
		if o.Reward.Solved {
			sum.Solved++
		}
		if o.Failed() {
			sum.Failed++
		}
	}
	if sum.Instances > 0 {
		sum.MeanReward = rewardSum / float64(sum.Instances)
		sum.SolveRate = float64(sum.Solved) / float64(sum.Instances)
	}
	sum.Usage = sum.ledger.Total()
	sum.CostUSD = sum.ledger.Cost()
	sum.Elapsed = time.Since(began)

	r.logger.Info("tot run complete",
		slog.String("run_id", runID),
		slog.Int("instances", sum.Instances),
		slog.Int("solved", sum.Solved),
		slog.Int("failed", sum.Failed),
		slog.Float64("mean_reward", sum.MeanReward),
		slog.String("usage", sum.Usage.String()),
		slog.Float64("cost_usd", sum.CostUSD))

	span.SetAttributes(
		attribute.Int("tot.solved", sum.Solved),
		attribute.Int("tot.failed", sum.Failed),
		attribute.Float64("tot.mean_reward", sum.MeanReward),
	)
	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return sum, err
	}
	return sum, nil
}
