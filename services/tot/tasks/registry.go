// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks maps task names to constructors.
package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianToT/services/tot/search"
	"github.com/AleutianAI/AleutianToT/services/tot/tasks/wordle"
)

// ErrUnknownTask is returned for a name with no registered factory.
var ErrUnknownTask = errors.New("unknown task")

// Options configures task construction. Fields a task does not use are
// ignored.
type Options struct {
	// DataPath overrides the task's embedded data file.
	DataPath string `json:"data_path" yaml:"data_path"`

	// OracleAssist enables target-aware value bonuses where a task has them.
	OracleAssist bool `json:"oracle_assist" yaml:"oracle_assist"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultOptions returns the options used by evaluation runs.
func DefaultOptions() Options {
	return Options{OracleAssist: true}
}

// Factory builds a task.
type Factory func(opts Options) (search.Task, error)

// Registry holds task factories by name.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in tasks.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(wordle.Name, newWordle)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// New builds the task registered as name.
//
// Outputs:
//   - search.Task: The constructed task.
//   - error: Wraps ErrUnknownTask for an unregistered name, or the
//     factory's error.
func (r *Registry) New(name string, opts Options) (search.Task, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownTask, name, r.Names())
	}
	task, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("build task %s: %w", name, err)
	}
	return task, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var defaultRegistry = NewRegistry()

// New builds a built-in task.
func New(name string, opts Options) (search.Task, error) {
	return defaultRegistry.New(name, opts)
}

// Names lists the built-in tasks.
func Names() []string { return defaultRegistry.Names() }

func newWordle(opts Options) (search.Task, error) {
	wopts := []wordle.Option{
		wordle.WithOracleAssist(opts.OracleAssist),
		wordle.WithLogger(opts.Logger),
	}
	if opts.DataPath != "" {
		return wordle.Load(opts.DataPath, wopts...)
	}
	return wordle.New(wopts...), nil
}
