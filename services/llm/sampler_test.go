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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts uint) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

// recordingBackend answers every call with params.N copies of "ok" and
// records the N of each call.
type recordingBackend struct {
	mu    sync.Mutex
	sizes []int
	fail  func(call int) error
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) Complete(_ context.Context, _ []Message, params GenerationParams) (SampleResult, error) {
	b.mu.Lock()
	call := len(b.sizes)
	b.sizes = append(b.sizes, params.N)
	b.mu.Unlock()

	if b.fail != nil {
		if err := b.fail(call); err != nil {
			return SampleResult{}, err
		}
	}
	out := SampleResult{Usage: Usage{PromptTokens: 10, CompletionTokens: int64(params.N), Calls: 1}}
	for i := 0; i < params.N; i++ {
		out.Completions = append(out.Completions, "ok")
	}
	return out, nil
}

func TestClient_Sample_ChunksByBatchSize(t *testing.T) {
	backend := &recordingBackend{}
	client, err := NewClient(backend, WithRetryPolicy(fastRetry(1)))
	require.NoError(t, err)

	res, err := client.SamplePrompt(context.Background(), "guess", GenerationParams{Model: "gpt-4.1-mini", N: 45})
	require.NoError(t, err)

	assert.Equal(t, []int{20, 20, 5}, backend.sizes)
	assert.Len(t, res.Completions, 45)
	assert.Equal(t, int64(30), res.Usage.PromptTokens)
	assert.Equal(t, int64(45), res.Usage.CompletionTokens)
	assert.Equal(t, int64(3), res.Usage.Calls)
}

func TestClient_Sample_DefaultsToOneCompletion(t *testing.T) {
	backend := &recordingBackend{}
	client, err := NewClient(backend, WithBatchSize(4))
	require.NoError(t, err)

	res, err := client.SamplePrompt(context.Background(), "guess", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, backend.sizes)
	assert.Len(t, res.Completions, 1)
}

func TestClient_Sample_RetriesTransientErrors(t *testing.T) {
	backend := &recordingBackend{fail: func(call int) error {
		if call < 2 {
			return Transient(errors.New("429 too many requests"))
		}
		return nil
	}}
	client, err := NewClient(backend, WithRetryPolicy(fastRetry(5)))
	require.NoError(t, err)

	res, err := client.SamplePrompt(context.Background(), "guess", GenerationParams{N: 3})
	require.NoError(t, err)
	assert.Len(t, backend.sizes, 3)
	assert.Len(t, res.Completions, 3)
}

func TestClient_Sample_PermanentErrorIsNotRetried(t *testing.T) {
	bad := errors.New("400 bad request")
	backend := &recordingBackend{fail: func(int) error { return bad }}
	client, err := NewClient(backend, WithRetryPolicy(fastRetry(5)))
	require.NoError(t, err)

	_, err = client.SamplePrompt(context.Background(), "guess", GenerationParams{N: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, bad)
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
	assert.Len(t, backend.sizes, 1)
}

func TestClient_Sample_RetriesExhausted(t *testing.T) {
	backend := &recordingBackend{fail: func(int) error { return Transient(errors.New("503")) }}
	client, err := NewClient(backend, WithRetryPolicy(fastRetry(3)))
	require.NoError(t, err)

	_, err = client.SamplePrompt(context.Background(), "guess", GenerationParams{N: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, backend.sizes, 3)
}

func TestClient_Sample_ReturnsPartialResultOnError(t *testing.T) {
	backend := &recordingBackend{fail: func(call int) error {
		if call == 1 {
			return errors.New("model not found")
		}
		return nil
	}}
	client, err := NewClient(backend, WithRetryPolicy(fastRetry(1)), WithBatchSize(2))
	require.NoError(t, err)

	res, err := client.SamplePrompt(context.Background(), "guess", GenerationParams{N: 5})
	require.Error(t, err)
	assert.Len(t, res.Completions, 2)
	assert.Equal(t, int64(1), res.Usage.Calls)
}

func TestClient_Sample_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	backend := BackendFunc(func(context.Context, []Message, GenerationParams) (SampleResult, error) {
		calls.Add(1)
		return SampleResult{}, Transient(errors.New("connection reset"))
	})
	breaker := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, CoolDown: time.Hour})
	client, err := NewClient(backend, WithRetryPolicy(fastRetry(1)), WithCircuitBreaker(breaker))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := client.SamplePrompt(context.Background(), "guess", GenerationParams{})
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, breaker.State())

	_, err = client.SamplePrompt(context.Background(), "guess", GenerationParams{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Sample_RejectsEmptyMessages(t *testing.T) {
	client, err := NewClient(&recordingBackend{})
	require.NoError(t, err)

	_, err = client.Sample(context.Background(), nil, GenerationParams{})
	assert.ErrorIs(t, err, ErrEmptyMessages)
}

func TestNewClient_NilBackend(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorIs(t, err, ErrNilBackend)
}

func TestClient_Sample_ContextCanceledDuringBackoff(t *testing.T) {
	backend := &recordingBackend{fail: func(int) error { return Transient(errors.New("503")) }}
	client, err := NewClient(backend, WithRetryPolicy(RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
		Multiplier:      1,
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.SamplePrompt(ctx, "guess", GenerationParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline"))
}
