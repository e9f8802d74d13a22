// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads tot settings from defaults, a YAML or JSON file and
// the environment, in that order, then validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianToT/services/llm"
	"github.com/AleutianAI/AleutianToT/services/tot/search"
	"github.com/AleutianAI/AleutianToT/services/tot/tasks"
	"github.com/AleutianAI/AleutianToT/services/tot/telemetry"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Backend names.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config is the full configuration of the tot binaries.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after Load.
type Config struct {
	LLM       LLMConfig        `json:"llm" yaml:"llm"`
	Search    search.Config    `json:"search" yaml:"search"`
	Task      TaskConfig       `json:"task" yaml:"task"`
	Run       RunConfig        `json:"run" yaml:"run"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
	Server    ServerConfig     `json:"server" yaml:"server"`
	Log       LogConfig        `json:"log" yaml:"log"`
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	Backend string `json:"backend" yaml:"backend" validate:"oneof=openai ollama"`

	OpenAI llm.OpenAIConfig `json:"openai" yaml:"openai"`
	Ollama llm.OllamaConfig `json:"ollama" yaml:"ollama"`

	// BatchSize caps completions per backend request.
	BatchSize int `json:"batch_size" yaml:"batch_size" validate:"gte=1,lte=128"`

	// RateLimit is requests per second across all calls (0 = unlimited).
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst" validate:"gte=0"`

	Retry llm.RetryPolicy `json:"retry" yaml:"retry"`

	BreakerEnabled bool              `json:"breaker_enabled" yaml:"breaker_enabled"`
	Breaker        llm.BreakerConfig `json:"breaker" yaml:"breaker"`
}

// TaskConfig names the task and how to build it.
type TaskConfig struct {
	Name         string `json:"name" yaml:"name" validate:"required"`
	DataPath     string `json:"data_path" yaml:"data_path"`
	OracleAssist bool   `json:"oracle_assist" yaml:"oracle_assist"`
}

// Options converts to registry options.
func (c TaskConfig) Options(logger *slog.Logger) tasks.Options {
	return tasks.Options{DataPath: c.DataPath, OracleAssist: c.OracleAssist, Logger: logger}
}

// RunConfig controls batch runs over an index range.
type RunConfig struct {
	// Start and End bound the instance indices, End exclusive.
	Start int `json:"start" yaml:"start" validate:"gte=0"`
	End   int `json:"end" yaml:"end" validate:"gtfield=Start"`

	// Naive runs the single-shot baseline instead of the search.
	Naive bool `json:"naive" yaml:"naive"`

	// Concurrency is how many instances run at once.
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`

	// OutputPath receives one JSON line per instance when set.
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `json:"port" yaml:"port" validate:"gte=1,lte=65535"`

	// SolveTimeout bounds one /solve request (0 = unbounded).
	SolveTimeout time.Duration `json:"solve_timeout" yaml:"solve_timeout" validate:"gte=0"`

	GinMode string `json:"gin_mode" yaml:"gin_mode" validate:"oneof=debug release test"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Backend:   BackendOpenAI,
			OpenAI:    llm.OpenAIConfig{Model: llm.DefaultOpenAIModel},
			Ollama:    llm.OllamaConfig{BaseURL: "http://localhost:11434", Timeout: 5 * time.Minute},
			BatchSize: llm.DefaultBatchSize,
			Retry:     llm.DefaultRetryPolicy(),
			Breaker:   llm.DefaultBreakerConfig(),
		},
		Search: search.DefaultConfig(),
		Task: TaskConfig{
			Name:         "wordle",
			OracleAssist: true,
		},
		Run: RunConfig{
			Start:       0,
			End:         1,
			Concurrency: 1,
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Port:         8080,
			SolveTimeout: 10 * time.Minute,
			GinMode:      "release",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration with priority env > file > defaults.
//
// Inputs:
//   - path: YAML or JSON file. Empty, or a path that does not exist, means
//     defaults only.
//
// Outputs:
//   - Config: Merged configuration, returned even when invalid.
//   - error: A parse error, or an error wrapping ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// normalize fills fields derived from others.
func (c *Config) normalize() {
	// The search model is what goes on the wire; a local backend's model
	// takes precedence so the hosted default is never sent to Ollama.
	if c.LLM.Backend == BackendOllama && c.LLM.Ollama.Model != "" {
		c.Search.Model = c.LLM.Ollama.Model
	}
	if c.LLM.Backend == BackendOpenAI {
		c.LLM.OpenAI.Model = c.Search.Model
	}
}

var validate = validator.New()

// Validate checks every field constraint.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// SlogLevel maps Log.Level to a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

func applyEnv(c *Config) {
	// LLM
	envString("TOT_BACKEND", &c.LLM.Backend)
	envString("OPENAI_API_KEY", &c.LLM.OpenAI.APIKey)
	envString("OPENAI_API_BASE", &c.LLM.OpenAI.BaseURL)
	envString("OLLAMA_BASE_URL", &c.LLM.Ollama.BaseURL)
	envString("OLLAMA_MODEL", &c.LLM.Ollama.Model)
	envInt("TOT_BATCH_SIZE", &c.LLM.BatchSize)
	envFloat("TOT_RATE_LIMIT", &c.LLM.RateLimit)
	envBool("TOT_BREAKER_ENABLED", &c.LLM.BreakerEnabled)

	// Search
	envString("TOT_MODEL", &c.Search.Model)
	envInt("TOT_STEPS", &c.Search.Steps)
	envInt("TOT_BREADTH", &c.Search.Breadth)
	if v := os.Getenv("TOT_GENERATE"); v != "" {
		c.Search.Generate = search.GenerateMode(v)
	}
	if v := os.Getenv("TOT_PROMPT_SAMPLE"); v != "" {
		c.Search.PromptSample = search.PromptStyle(v)
	}
	if v := os.Getenv("TOT_EVALUATE"); v != "" {
		c.Search.Evaluate = search.EvaluateMode(v)
	}
	if v := os.Getenv("TOT_SELECT"); v != "" {
		c.Search.Select = search.SelectMode(v)
	}
	envInt("TOT_N_GENERATE_SAMPLE", &c.Search.NGenerateSample)
	envInt("TOT_N_EVALUATE_SAMPLE", &c.Search.NEvaluateSample)
	envInt("TOT_MAX_CONCURRENCY", &c.Search.MaxConcurrency)
	envBool("TOT_CACHE_VALUES", &c.Search.CacheValues)
	if v := os.Getenv("TOT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Search.Temperature = float32(f)
		}
	}
	if v := os.Getenv("TOT_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Search.Seed = u
		}
	}
	envInt64("TOT_MAX_CALLS", &c.Search.Budget.MaxCalls)
	envInt64("TOT_MAX_TOKENS_BUDGET", &c.Search.Budget.MaxTokens)
	envFloat("TOT_MAX_COST_USD", &c.Search.Budget.MaxCostUSD)
	envDuration("TOT_TIME_LIMIT", &c.Search.Budget.TimeLimit)
	envBool("TOT_TRACING_ENABLED", &c.Search.TracingEnabled)

	// Task
	envString("TOT_TASK", &c.Task.Name)
	envString("TOT_DATA_PATH", &c.Task.DataPath)
	envBool("TOT_ORACLE_ASSIST", &c.Task.OracleAssist)

	// Run
	envInt("TOT_RUN_CONCURRENCY", &c.Run.Concurrency)

	// Server
	envInt("TOT_PORT", &c.Server.Port)

	// Log
	envString("TOT_LOG_LEVEL", &c.Log.Level)
	envString("TOT_LOG_FORMAT", &c.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
