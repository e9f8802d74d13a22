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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("aleutian.tot.llm.ollama")

// OllamaConfig configures an OllamaBackend.
type OllamaConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model" yaml:"model"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// OllamaConfigFromEnv reads OLLAMA_BASE_URL and OLLAMA_MODEL.
func OllamaConfigFromEnv() OllamaConfig {
	return OllamaConfig{
		BaseURL: os.Getenv("OLLAMA_BASE_URL"),
		Model:   os.Getenv("OLLAMA_MODEL"),
		Timeout: 5 * time.Minute,
	}
}

// OllamaBackend samples from a local Ollama server through /api/chat.
//
// The chat endpoint returns one completion per request, so N completions
// cost N sequential requests.
type OllamaBackend struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int64   `json:"prompt_eval_count"`
	EvalCount       int64   `json:"eval_count"`
}

// NewOllamaBackend builds a backend from cfg.
func NewOllamaBackend(cfg OllamaConfig, logger *slog.Logger) (*OllamaBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama: %w", ErrMissingBaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Model == "" {
		logger.Warn("Ollama model not set, requests must specify one")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	logger.Info("Initializing Ollama backend", slog.String("base_url", baseURL), slog.String("model", cfg.Model))
	return &OllamaBackend{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		model:      cfg.Model,
		logger:     logger,
	}, nil
}

// Name implements Backend.
func (o *OllamaBackend) Name() string { return "ollama" }

// Complete implements Backend.
func (o *OllamaBackend) Complete(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error) {
	model := params.Model
	if model == "" {
		model = o.model
	}
	n := max(params.N, 1)

	ctx, span := ollamaTracer.Start(ctx, "OllamaBackend.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.num_messages", len(messages)),
		attribute.Int("llm.n", n),
	)

	options := map[string]any{"temperature": params.Temperature}
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	body, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages, Stream: false, Options: options})
	if err != nil {
		return SampleResult{}, fmt.Errorf("marshal ollama chat request: %w", err)
	}

	out := SampleResult{Completions: make([]string, 0, n)}
	for i := 0; i < n; i++ {
		resp, err := o.chat(ctx, body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
		if resp.Message.Role != "" && resp.Message.Role != RoleAssistant {
			o.logger.Warn("Ollama chat response role was not assistant", slog.String("role", string(resp.Message.Role)))
		}
		out.Completions = append(out.Completions, resp.Message.Content)
		out.Usage = out.Usage.Add(Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		})
	}
	out.Usage.Calls = int64(n)
	return out, nil
}

func (o *OllamaBackend) chat(ctx context.Context, body []byte) (*ollamaChatResponse, error) {
	chatURL := o.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, Transient(fmt.Errorf("send ollama chat request to %s: %w", chatURL, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read ollama chat response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{Backend: "ollama", StatusCode: resp.StatusCode, Body: string(respBody)}
		if retryableStatus(resp.StatusCode) {
			return nil, Transient(statusErr)
		}
		return nil, statusErr
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse ollama chat response: %w", err)
	}
	return &parsed, nil
}
