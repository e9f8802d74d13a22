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
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4.1-mini"

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	APIKey       string `json:"-" yaml:"-"`
	BaseURL      string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model        string `json:"model" yaml:"model"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// HTTPClient overrides the transport, for tests.
	HTTPClient *http.Client `json:"-" yaml:"-"`
}

// OpenAIConfigFromEnv reads OPENAI_API_KEY and OPENAI_API_BASE.
func OpenAIConfigFromEnv() OpenAIConfig {
	return OpenAIConfig{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_API_BASE"),
		Model:   DefaultOpenAIModel,
	}
}

// OpenAIBackend calls the OpenAI chat completions API, or any server that
// speaks it.
type OpenAIBackend struct {
	client *openai.Client
	model  string
	system string
	logger *slog.Logger
}

// NewOpenAIBackend builds a backend from cfg.
//
// Outputs:
//   - *OpenAIBackend: Ready to use backend.
//   - error: ErrMissingAPIKey when cfg.APIKey is empty.
func NewOpenAIBackend(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	logger.Info("Initializing OpenAI backend",
		slog.String("model", cfg.Model),
		slog.String("base_url", oc.BaseURL))
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
		logger: logger,
	}, nil
}

// Name implements Backend.
func (o *OpenAIBackend) Name() string { return "openai" }

// Complete implements Backend. The API returns all N choices in one response.
func (o *OpenAIBackend) Complete(ctx context.Context, messages []Message, params GenerationParams) (SampleResult, error) {
	model := params.Model
	if model == "" {
		model = o.model
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if o.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	}
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: requestTemperature(params.Temperature),
		MaxTokens:   params.MaxTokens,
		N:           max(params.N, 1),
		Stop:        params.Stop,
	}

	o.logger.Debug("Sampling via OpenAI", slog.String("model", model), slog.Int("n", req.N))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return SampleResult{}, classifyOpenAIError(err)
	}

	out := SampleResult{
		Completions: make([]string, 0, len(resp.Choices)),
		Usage: Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			Calls:            1,
		},
	}
	for _, choice := range resp.Choices {
		out.Completions = append(out.Completions, choice.Message.Content)
	}
	return out, nil
}

// requestTemperature maps 0 to the smallest positive float32. go-openai
// omits a zero temperature from the request, which the API reads as 1.
func requestTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func classifyOpenAIError(err error) error {
	wrapped := fmt.Errorf("openai chat completion: %w", err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.HTTPStatusCode) {
			return Transient(wrapped)
		}
		return wrapped
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retryableStatus(reqErr.HTTPStatusCode) {
			return Transient(wrapped)
		}
		return wrapped
	}
	// Anything else failed before a response arrived.
	return Transient(wrapped)
}
